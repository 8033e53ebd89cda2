package export

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
)

// PendingRepository manages the export work queue
type PendingRepository interface {
	Create(ctx context.Context, pe *PendingExport) error
	GetByID(ctx context.Context, id int64) (*PendingExport, error)

	// GetDue returns rows whose retry_at is unset or not after now, oldest first
	GetDue(ctx context.Context, providerSlug string, now time.Time, limit int) ([]*PendingExport, error)
	UpdateRetry(ctx context.Context, pe *PendingExport) error
	Delete(ctx context.Context, id int64) error
	WithTx(tx pgx.Tx) PendingRepository
}

// Repository stores delivered exports
type Repository interface {
	// Create is a no-op when (provider_slug, transaction_id) already exists
	Create(ctx context.Context, et *ExportTransaction) error
	WithTx(tx pgx.Tx) Repository
}

// ErrPendingExportNotFound indicates a missing or already deleted work item
type ErrPendingExportNotFound struct {
	ID int64
}

func (e ErrPendingExportNotFound) Error() string {
	return "pending export not found: " + strconv.FormatInt(e.ID, 10)
}

func (e ErrPendingExportNotFound) Is(target error) bool {
	t, ok := target.(ErrPendingExportNotFound)
	if !ok {
		return false
	}
	return t.ID == 0 || t.ID == e.ID
}
