package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/receipts-inbox/internal/cache"
	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
)

// DefaultCacheTTL bounds how stale the cached catalog may get.
const DefaultCacheTTL = 5 * time.Minute

// TokenSetMatcher scores descriptions against product names and descriptions
// by Jaccard similarity over normalized token sets.
type TokenSetMatcher struct {
	source    CatalogSource
	catalog   *cache.TTL[[]entity.Product]
	threshold float64
	logger    *slog.Logger
}

var _ Matcher = (*TokenSetMatcher)(nil)

// NewTokenSetMatcher builds a matcher. Non-positive threshold or ttl use the
// defaults; now may be nil.
func NewTokenSetMatcher(source CatalogSource, threshold float64, ttl time.Duration, now func() time.Time, logger *slog.Logger) *TokenSetMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &TokenSetMatcher{
		source:    source,
		catalog:   cache.NewTTL[[]entity.Product](ttl, now),
		threshold: threshold,
		logger:    logger,
	}
}

func (m *TokenSetMatcher) Match(ctx context.Context, description string) (*entity.ProductMatch, error) {
	products, err := m.products(ctx)
	if err != nil {
		return nil, err
	}
	best, score := bestMatch(description, products)
	if best == nil || score < m.threshold {
		m.logger.Debug("resolve.no_match", "description", description, "best_score", score)
		return nil, nil
	}
	m.logger.Debug("resolve.match", "description", description, "product_id", best.ID, "score", score)
	return &entity.ProductMatch{
		Product:    *best,
		Confidence: score,
		Reason:     fmt.Sprintf("token overlap %.2f with %q", score, best.Name),
	}, nil
}

func (m *TokenSetMatcher) Invalidate() { m.catalog.Invalidate() }

func (m *TokenSetMatcher) products(ctx context.Context) ([]entity.Product, error) {
	return loadCatalog(ctx, m.source, m.catalog, m.logger)
}

func loadCatalog(ctx context.Context, source CatalogSource, c *cache.TTL[[]entity.Product], logger *slog.Logger) ([]entity.Product, error) {
	if list, ok := c.Get(); ok {
		return list, nil
	}
	list, err := source.ListCatalog(ctx)
	if err != nil {
		logger.Error("resolve.catalog_load_failed", "error", err)
		return nil, common.ResolutionFailed(err)
	}
	c.Set(list)
	logger.Debug("resolve.catalog_loaded", "products", len(list))
	return list, nil
}

// bestMatch returns the highest scoring product; ties keep catalog order.
func bestMatch(description string, products []entity.Product) (*entity.Product, float64) {
	want := Tokens(description)
	var (
		best      *entity.Product
		bestScore float64
	)
	for i := range products {
		p := &products[i]
		score := Jaccard(want, Tokens(p.Name))
		if d := Jaccard(want, Tokens(p.Description)); d > score {
			score = d
		}
		if score > bestScore {
			best, bestScore = p, score
		}
	}
	return best, bestScore
}
