package shared

import "time"

// CalendarDate is the day t falls on in its own zone, as midnight UTC. Date-only
// transaction dates are stored in this form whatever zone the feed uses.
func CalendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayIn formats the calendar day of t in loc, or in UTC when loc is nil
func DayIn(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(time.DateOnly)
}
