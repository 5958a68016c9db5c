// internal/core/ports/countline.go
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stocklens/countd/internal/core/domain"
)

// PriorCountLine is one count line already recorded for an item in the
// current session, most recent first.
type PriorCountLine struct {
	ID         uuid.UUID `json:"id"`
	CountedQty int       `json:"counted_qty"`
	CountedAt  time.Time `json:"counted_at"`
}

// PriorCount is the result of the duplicate-count check. AlreadyCounted is
// informational, not blocking: the workflow turns it into a three-way
// operator decision.
type PriorCount struct {
	AlreadyCounted bool             `json:"already_counted"`
	Lines          []PriorCountLine `json:"lines,omitempty"`
}

// CountLineRepository is the count-line backend collaborator.
type CountLineRepository interface {
	CheckAlreadyCounted(ctx context.Context, sessionID, itemCode string) (*PriorCount, error)
	ListVarianceReasons(ctx context.Context) ([]domain.VarianceReason, error)
	CreateCountLine(ctx context.Context, payload *domain.CountLinePayload) (*domain.CountLine, error)
	AddQuantityToLine(ctx context.Context, lineID uuid.UUID, additionalQty int) (*domain.CountLine, error)

	// MarkItemVerified is a best-effort secondary call; its failure never
	// rolls back a submitted line.
	MarkItemVerified(ctx context.Context, itemCode string, details domain.VerificationDetails) error
}
