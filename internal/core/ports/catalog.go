// internal/core/ports/catalog.go
package ports

import (
	"context"

	"github.com/stocklens/countd/internal/core/domain"
)

// CatalogRepository is the item lookup collaborator. Implementations map
// transport failures to domain.ErrNetwork and empty results to
// domain.ErrNotFound.
type CatalogRepository interface {
	// LookupByBarcode resolves a normalized barcode to an item.
	LookupByBarcode(ctx context.Context, code string) (*domain.Item, error)

	// Search returns lightweight summaries matching a free-text query.
	Search(ctx context.Context, query string) ([]domain.ItemSummary, error)

	// Refresh re-reads the item from the source of truth, replacing the
	// whole record.
	Refresh(ctx context.Context, itemCode string) (*domain.Item, error)
}
