package service

import (
	"context"
	"log/slog"

	"github.com/loyalty-reconciliation/internal/domain/matched"
	"github.com/loyalty-reconciliation/internal/platform/metrics"
)

// ForceMatcher is the part of the matching engine used for redress
type ForceMatcher interface {
	ForceMatch(ctx context.Context, paymentID, schemeID int64) (*matched.MatchedTransaction, error)
}

// MatchServiceImpl implements the MatchService interface
type MatchServiceImpl struct {
	engine      ForceMatcher
	matchedRepo matched.Repository
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewMatchService creates a new match service
func NewMatchService(engine ForceMatcher, matchedRepo matched.Repository, m *metrics.Metrics, logger *slog.Logger) MatchService {
	return &MatchServiceImpl{
		engine:      engine,
		matchedRepo: matchedRepo,
		metrics:     m,
		logger:      logger,
	}
}

// ForceMatch delegates to the matching engine and counts the operator action
func (s *MatchServiceImpl) ForceMatch(ctx context.Context, paymentTransactionID, schemeTransactionID int64) (*matched.MatchedTransaction, error) {
	m, err := s.engine.ForceMatch(ctx, paymentTransactionID, schemeTransactionID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Transactions force matched",
		"payment_transaction_id", paymentTransactionID,
		"scheme_transaction_id", schemeTransactionID,
		"matched_transaction_id", m.ID,
	)
	s.metrics.Inc(metrics.ProcessAdminAPI, string(m.MatchingType), m.ProviderSlug, "force_matched")
	return m, nil
}

func (s *MatchServiceImpl) GetMatchedTransaction(ctx context.Context, id int64) (*matched.MatchedTransaction, error) {
	return s.matchedRepo.GetByID(ctx, id)
}
