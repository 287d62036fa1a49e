package resolve

import (
	"context"

	"github.com/joseph-ayodele/receipts-inbox/internal/entity"
)

// DefaultThreshold is the minimum score accepted as a match (inclusive).
const DefaultThreshold = 0.5

// Matcher finds the catalog product a receipt line refers to. A nil match
// with a nil error means no product is close enough.
type Matcher interface {
	Match(ctx context.Context, description string) (*entity.ProductMatch, error)
	// Invalidate drops any cached catalog.
	Invalidate()
}

// CatalogSource lists the products a matcher may choose from.
type CatalogSource interface {
	ListCatalog(ctx context.Context) ([]entity.Product, error)
}
