// Package identity resolves the loyalty account behind a payment token
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loyalty-reconciliation/internal/domain/transaction"
	"github.com/loyalty-reconciliation/internal/platform/httpclient"
)

// Resolver is the identity service collaborator
type Resolver interface {
	ResolveUserIdentity(ctx context.Context, loyaltySchemeSlug, paymentToken string) (*transaction.UserIdentity, error)
}

type resolveRequest struct {
	LoyaltySchemeSlug string `json:"loyalty_scheme_slug"`
	PaymentToken      string `json:"payment_token"`
}

type resolveResponse struct {
	LoyaltyID       string            `json:"loyalty_id"`
	SchemeAccountID int64             `json:"scheme_account_id"`
	UserID          int64             `json:"user_id"`
	Credentials     map[string]string `json:"credentials"`
}

// HTTPResolver calls POST {base}/identities/resolve
type HTTPResolver struct {
	client  *httpclient.Client
	baseURL string
	logger  *slog.Logger
}

var _ Resolver = (*HTTPResolver)(nil)

func NewHTTPResolver(client *httpclient.Client, baseURL string, logger *slog.Logger) *HTTPResolver {
	return &HTTPResolver{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("component", "identity_resolver"),
	}
}

func (r *HTTPResolver) ResolveUserIdentity(ctx context.Context, loyaltySchemeSlug, paymentToken string) (*transaction.UserIdentity, error) {
	if paymentToken == "" {
		return nil, transaction.ErrIdentityNotFound{LoyaltySchemeSlug: loyaltySchemeSlug}
	}

	resp, err := r.client.PostJSON(ctx, r.baseURL+"/identities/resolve", nil, resolveRequest{
		LoyaltySchemeSlug: loyaltySchemeSlug,
		PaymentToken:      paymentToken,
	})
	if err != nil {
		r.logger.Error("Identity service unavailable", "loyalty_scheme_slug", loyaltySchemeSlug, "error", err)
		return nil, fmt.Errorf("failed to call identity service: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, transaction.ErrIdentityNotFound{LoyaltySchemeSlug: loyaltySchemeSlug, PaymentToken: paymentToken}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		r.logger.Error("Identity service returned an error",
			"loyalty_scheme_slug", loyaltySchemeSlug,
			"status", resp.StatusCode,
			"body", string(resp.Body),
		)
		return nil, fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	var body resolveResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("failed to decode identity response: %w", err)
	}
	if body.LoyaltyID == "" {
		return nil, transaction.ErrIdentityNotFound{LoyaltySchemeSlug: loyaltySchemeSlug, PaymentToken: paymentToken}
	}

	return &transaction.UserIdentity{
		LoyaltySchemeSlug: loyaltySchemeSlug,
		PaymentToken:      paymentToken,
		LoyaltyID:         body.LoyaltyID,
		SchemeAccountID:   body.SchemeAccountID,
		UserID:            body.UserID,
		Credentials:       body.Credentials,
		CreatedAt:         time.Now().UTC(),
	}, nil
}

// Service returns the cached identity for a token or fetches and stores it
type Service struct {
	repo     transaction.IdentityRepository
	resolver Resolver
	logger   *slog.Logger
}

func NewService(repo transaction.IdentityRepository, resolver Resolver, logger *slog.Logger) *Service {
	return &Service{repo: repo, resolver: resolver, logger: logger}
}

// Resolve returns a persisted identity with its ID set
func (s *Service) Resolve(ctx context.Context, loyaltySchemeSlug, paymentToken string) (*transaction.UserIdentity, error) {
	cached, err := s.repo.GetByToken(ctx, loyaltySchemeSlug, paymentToken)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, transaction.ErrIdentityNotFound{}) {
		return nil, fmt.Errorf("failed to read cached identity: %w", err)
	}

	fetched, err := s.resolver.ResolveUserIdentity(ctx, loyaltySchemeSlug, paymentToken)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Upsert(ctx, fetched); err != nil {
		return nil, fmt.Errorf("failed to store identity: %w", err)
	}

	s.logger.Info("Resolved user identity",
		"loyalty_scheme_slug", loyaltySchemeSlug,
		"user_identity_id", fetched.ID,
	)
	return fetched, nil
}
