package mongo

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/loyalty-reconciliation/internal/domain/audit"
)

const (
	// AuditCollectionName is the name of the export audit collection in MongoDB
	AuditCollectionName = "export_audit"
)

// AuditRepository implements audit.Repository for MongoDB.
// Records are append-only; every attempt is kept, so there is no duplicate check.
type AuditRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

var _ audit.Repository = (*AuditRepository)(nil)

func NewAuditRepository(logger *slog.Logger, db *mongo.Database) *AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureIndexes creates the lookup index used by GetByTransactionID
func (r *AuditRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.db.Collection(AuditCollectionName).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "provider_slug", Value: 1},
			{Key: "transaction_id", Value: 1},
			{Key: "request_timestamp", Value: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create audit indexes: %w", err)
	}
	return nil
}

func (r *AuditRepository) Create(ctx context.Context, msg *audit.Message) error {
	if _, err := r.db.Collection(AuditCollectionName).InsertOne(ctx, msg); err != nil {
		r.logger.Error("Failed to archive export audit record",
			"provider_slug", msg.ProviderSlug,
			"transaction_id", msg.TransactionID,
			"error", err)
		return fmt.Errorf("failed to archive export audit record: %w", err)
	}
	return nil
}

// GetByTransactionID returns every attempt for a transaction, oldest first
func (r *AuditRepository) GetByTransactionID(ctx context.Context, providerSlug, transactionID string) ([]*audit.Message, error) {
	filter := bson.M{"provider_slug": providerSlug, "transaction_id": transactionID}
	opts := options.Find().SetSort(bson.D{{Key: "request_timestamp", Value: 1}})

	cursor, err := r.db.Collection(AuditCollectionName).Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to query export audit records",
			"provider_slug", providerSlug,
			"transaction_id", transactionID,
			"error", err)
		return nil, fmt.Errorf("failed to query export audit records: %w", err)
	}
	defer cursor.Close(ctx)

	var messages []*audit.Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode export audit records: %w", err)
	}

	return messages, nil
}
