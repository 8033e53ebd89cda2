package exporting

import "time"

// RetryPolicy decides when a failed export is attempted again. retryCount is the
// number of failures recorded including the one just seen; ok is false once the
// budget is spent.
type RetryPolicy interface {
	NextRetry(retryCount int, now time.Time) (at time.Time, ok bool)
}

// FixedDelayPolicy retries after Delay until MaxRetries failures have been retried
type FixedDelayPolicy struct {
	Delay      time.Duration
	MaxRetries int
}

func (p FixedDelayPolicy) NextRetry(retryCount int, now time.Time) (time.Time, bool) {
	if retryCount > p.MaxRetries {
		return time.Time{}, false
	}
	return now.Add(p.Delay), true
}

// DelayThenDailyPolicy retries the first failure after FirstDelay and every later
// one at the next Hour:Minute wall-clock time in Location
type DelayThenDailyPolicy struct {
	FirstDelay time.Duration
	Hour       int
	Minute     int
	Location   *time.Location
	MaxRetries int
}

func (p DelayThenDailyPolicy) NextRetry(retryCount int, now time.Time) (time.Time, bool) {
	if retryCount > p.MaxRetries {
		return time.Time{}, false
	}
	if retryCount <= 1 {
		return now.Add(p.FirstDelay), true
	}
	return nextWallClock(now, p.Hour, p.Minute, p.Location), true
}

// nextWallClock returns the first hh:mm in loc strictly after now
func nextWallClock(now time.Time, hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next.UTC()
}

// Cutover holds back the very first attempt of a transaction until hh:mm local
// time on the day it becomes due
type Cutover struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// Wait returns how long to hold an attempt made at now, or zero when it may go
func (c Cutover) Wait(now time.Time) time.Duration {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, loc)
	if local.Before(at) {
		return at.Sub(local)
	}
	return 0
}
