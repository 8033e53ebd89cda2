package imports

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// Repository manages import audit rows
type Repository interface {
	// ExistingIDs returns the subset of ids already imported for the provider in one lookup
	ExistingIDs(ctx context.Context, providerSlug string, ids []string) (map[string]struct{}, error)

	// BulkCreate inserts all rows in one statement, ignoring rows that already exist,
	// and returns the number actually inserted
	BulkCreate(ctx context.Context, rows []*ImportTransaction) (int64, error)
	WithTx(tx pgx.Tx) Repository
}
