package handler

import (
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loyalty-reconciliation/internal/admin_api/middleware"
	"github.com/loyalty-reconciliation/internal/admin_api/service"
	"github.com/loyalty-reconciliation/internal/domain/matched"
	"github.com/loyalty-reconciliation/internal/domain/money"
	"github.com/loyalty-reconciliation/internal/domain/transaction"
	"github.com/loyalty-reconciliation/internal/matching"
)

// MatchHandler handles HTTP requests for manual redress
type MatchHandler struct {
	matchService service.MatchService
	logger       *slog.Logger
}

// NewMatchHandler creates a new match handler
func NewMatchHandler(logger *slog.Logger, matchService service.MatchService) *MatchHandler {
	return &MatchHandler{
		matchService: matchService,
		logger:       logger,
	}
}

// ForceMatch pairs two pending transactions chosen by an operator
func (h *MatchHandler) ForceMatch(c *gin.Context) {
	var req ForceMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	logger := h.logger.With(
		"correlation_id", middleware.GetCorrelationID(c),
		"payment_transaction_id", req.PaymentTransactionID,
		"scheme_transaction_id", req.SchemeTransactionID,
	)

	m, err := h.matchService.ForceMatch(c.Request.Context(), req.PaymentTransactionID, req.SchemeTransactionID)
	if err != nil {
		var redress *matching.RedressError
		switch {
		case errors.Is(err, transaction.ErrTransactionNotFound{}):
			RespondNotFound(c, err.Error())
		case errors.Is(err, transaction.ErrAlreadyMatched{}):
			RespondConflict(c, err.Error())
		case errors.As(err, &redress):
			logger.Warn("Force match needs redress", "error", err)
			RespondUnprocessable(c, "REDRESS_REQUIRED", redress.Error())
		default:
			logger.Error("Failed to force match", "error", err)
			RespondInternalError(c)
		}
		return
	}

	RespondCreated(c, mapMatchedToResponse(m))
}

// GetByID returns a matched transaction and its export status
func (h *MatchHandler) GetByID(c *gin.Context) {
	idParam := c.Param("id")
	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil || id <= 0 {
		RespondBadRequest(c, "Invalid matched transaction ID")
		return
	}

	m, err := h.matchService.GetMatchedTransaction(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, matched.ErrMatchedTransactionNotFound{}) {
			RespondNotFound(c, "Matched transaction not found")
			return
		}
		h.logger.Error("Failed to get matched transaction", "id", id, "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, mapMatchedToResponse(m))
}

func mapMatchedToResponse(m *matched.MatchedTransaction) MatchedTransactionResponse {
	return MatchedTransactionResponse{
		ID:                   m.ID,
		ProviderSlug:         m.ProviderSlug,
		TransactionID:        m.TransactionID,
		PaymentTransactionID: m.PaymentTransactionID,
		SchemeTransactionID:  m.SchemeTransactionID,
		TransactionDate:      m.TransactionDate.UTC().Format(time.RFC3339),
		SpendAmount:          money.ToPounds(m.SpendAmount),
		SpendCurrency:        m.SpendCurrency,
		MatchingType:         string(m.MatchingType),
		Status:               string(m.Status),
		CreatedAt:            m.CreatedAt.UTC().Format(time.RFC3339),
	}
}
