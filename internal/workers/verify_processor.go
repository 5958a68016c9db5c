// internal/workers/verify_processor.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/stocklens/countd/internal/core/domain"
	"github.com/stocklens/countd/internal/core/ports"
	"github.com/stocklens/countd/internal/core/services"
)

// VerifyProcessor applies the mark-verified flag that trails a successful
// count submission. The submission itself never waits on this.
type VerifyProcessor struct {
	lines  ports.CountLineRepository
	logger *slog.Logger
}

// NewVerifyProcessor creates a new verify processor
func NewVerifyProcessor(lines ports.CountLineRepository, logger *slog.Logger) *VerifyProcessor {
	return &VerifyProcessor{
		lines:  lines,
		logger: logger.With(slog.String("processor", "verify")),
	}
}

// ProcessMarkVerified handles a mark-verified task. Network failures are
// returned so asynq retries; a vanished item is dropped for good.
func (p *VerifyProcessor) ProcessMarkVerified(ctx context.Context, t *asynq.Task) error {
	var payload services.MarkVerifiedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode mark-verified payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := p.lines.MarkItemVerified(ctx, payload.ItemCode, payload.Details); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.logger.WarnContext(ctx, "item gone before verification flag landed",
				slog.String("item_code", payload.ItemCode))
			return fmt.Errorf("item %s: %v: %w", payload.ItemCode, err, asynq.SkipRetry)
		}
		return fmt.Errorf("mark %s verified: %w", payload.ItemCode, err)
	}

	p.logger.InfoContext(ctx, "item marked verified",
		slog.String("item_code", payload.ItemCode),
		slog.String("session_id", payload.Details.SessionID),
		slog.String("counted_by", payload.Details.CountedBy))
	return nil
}
