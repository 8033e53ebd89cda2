package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/loyalty-reconciliation/internal/matching"
	"github.com/panjf2000/ants/v2"
)

// WorkerPoolMatchService bounds how many match groups are matched at once across
// every consumer goroutine of the matcher process
type WorkerPoolMatchService struct {
	baseService MatchService
	pool        *ants.Pool
	logger      *slog.Logger
}

type WorkerPoolConfig struct {
	Size int
}

type matchOutput struct {
	results []matching.MatchResult
	err     error
}

func NewWorkerPoolMatchService(
	baseService MatchService,
	config WorkerPoolConfig,
	logger *slog.Logger,
) (*WorkerPoolMatchService, error) {
	pool, err := ants.NewPool(config.Size)
	if err != nil {
		return nil, err
	}

	return &WorkerPoolMatchService{
		baseService: baseService,
		pool:        pool,
		logger:      logger,
	}, nil
}

// Match submits the match group to the pool and waits for its result
func (s *WorkerPoolMatchService) Match(ctx context.Context, matchGroup uuid.UUID) ([]matching.MatchResult, error) {
	logger := s.logger.With("match_group", matchGroup.String())
	logger.Debug("Submitting match group to worker pool")

	out := make(chan matchOutput, 1)
	err := s.pool.Submit(func() {
		results, err := s.baseService.Match(ctx, matchGroup)
		out <- matchOutput{results: results, err: err}
	})
	if err != nil {
		logger.Error("Failed to submit match group to worker pool", "error", err)
		return nil, err
	}

	select {
	case o := <-out:
		return o.results, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown gracefully shuts down the worker pool.
func (s *WorkerPoolMatchService) Shutdown() {
	s.logger.Info("Shutting down worker pool", "running_workers", s.pool.Running())
	s.pool.Release()
}

// Running returns the number of running workers in the pool.
func (s *WorkerPoolMatchService) Running() int {
	return s.pool.Running()
}

// Capacity returns the capacity of the worker pool.
func (s *WorkerPoolMatchService) Capacity() int {
	return s.pool.Cap()
}
