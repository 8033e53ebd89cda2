package importing

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/loyalty-reconciliation/internal/domain/merchant"
	"github.com/loyalty-reconciliation/internal/domain/shared"
)

// IdentifierCache memoises MID resolution for the lifetime of one import batch.
// It is created per batch and discarded with it.
type IdentifierCache struct {
	repo         merchant.Repository
	feedType     shared.FeedType
	providerSlug string
	entries      map[merchant.Lookup][]int64
	lookups      int
}

func NewIdentifierCache(repo merchant.Repository, feedType shared.FeedType, providerSlug string) *IdentifierCache {
	return &IdentifierCache{
		repo:         repo,
		feedType:     feedType,
		providerSlug: providerSlug,
		entries:      make(map[merchant.Lookup][]int64),
	}
}

// Resolve returns the sorted, de-duplicated MID ids for all lookups. Lookups that match
// nothing are skipped; only repository failures are returned.
func (c *IdentifierCache) Resolve(ctx context.Context, lookups []merchant.Lookup) ([]int64, error) {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, l := range lookups {
		resolved, ok := c.entries[l]
		if !ok {
			c.lookups++
			var err error
			resolved, err = c.repo.Resolve(ctx, c.feedType, c.providerSlug, l)
			if err != nil && !errors.Is(err, merchant.ErrMissingMID) {
				return nil, fmt.Errorf("failed to resolve merchant identifier %s: %w", l.Value, err)
			}
			c.entries[l] = resolved
		}
		for _, id := range resolved {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Lookups is the number of repository round trips made so far
func (c *IdentifierCache) Lookups() int {
	return c.lookups
}
