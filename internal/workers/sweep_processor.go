// internal/workers/sweep_processor.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/stocklens/countd/internal/adapters/db"
	"github.com/stocklens/countd/internal/core/domain"
	"github.com/stocklens/countd/internal/core/services"
)

// photoObjectStore is the slice of the photo store the sweeper needs. The S3
// adapter satisfies it.
type photoObjectStore interface {
	List(ctx context.Context, prefix string) ([]string, error)
	DeleteMultiple(ctx context.Context, keys []string) error
}

// SweepProcessor removes photo objects whose draft was abandoned without
// cleanup. Anything under a session's prefix that no submitted count line
// references is an orphan.
type SweepProcessor struct {
	db     *db.Database
	photos photoObjectStore
	logger *slog.Logger
}

// NewSweepProcessor creates a new sweep processor
func NewSweepProcessor(database *db.Database, photos photoObjectStore, logger *slog.Logger) *SweepProcessor {
	return &SweepProcessor{
		db:     database,
		photos: photos,
		logger: logger.With(slog.String("processor", "photo_sweep")),
	}
}

// ProcessSweepPhotoOrphans handles a photo-orphan sweep for one session.
func (p *SweepProcessor) ProcessSweepPhotoOrphans(ctx context.Context, t *asynq.Task) error {
	var payload services.SweepPhotoOrphansPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode sweep payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.SessionID == "" {
		return fmt.Errorf("sweep payload without session: %w", asynq.SkipRetry)
	}

	referenced, err := p.referencedKeys(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("load referenced photo keys: %w", err)
	}

	prefix := fmt.Sprintf("proofs/%s/", payload.SessionID)
	stored, err := p.photos.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list stored photos: %w", err)
	}

	orphans := orphanKeys(referenced, stored)
	if len(orphans) == 0 {
		p.logger.DebugContext(ctx, "no orphaned photos",
			slog.String("session_id", payload.SessionID))
		return nil
	}

	if err := p.photos.DeleteMultiple(ctx, orphans); err != nil {
		return fmt.Errorf("delete orphaned photos: %w", err)
	}

	p.logger.InfoContext(ctx, "orphaned photos swept",
		slog.String("session_id", payload.SessionID),
		slog.Int("stored", len(stored)),
		slog.Int("referenced", len(referenced)),
		slog.Int("deleted", len(orphans)))
	return nil
}

// referencedKeys collects the object keys of every photo attached to a
// submitted count line in the session.
func (p *SweepProcessor) referencedKeys(ctx context.Context, sessionID string) ([]string, error) {
	const query = `
		SELECT photos FROM count_lines
		WHERE session_id = $1 AND photos IS NOT NULL AND photos != '[]'::jsonb`

	rows, err := p.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var photosJSON []byte
		if err := rows.Scan(&photosJSON); err != nil {
			return nil, err
		}
		var refs []domain.PhotoRef
		if err := json.Unmarshal(photosJSON, &refs); err != nil {
			return nil, fmt.Errorf("decode photo refs: %w", err)
		}
		for _, ref := range refs {
			keys = append(keys, ref.ObjectKey)
		}
	}
	return keys, rows.Err()
}

// orphanKeys returns the stored keys that no count line references.
func orphanKeys(referenced, stored []string) []string {
	keep := make(map[string]struct{}, len(referenced))
	for _, key := range referenced {
		keep[key] = struct{}{}
	}

	var orphans []string
	for _, key := range stored {
		if _, ok := keep[key]; !ok {
			orphans = append(orphans, key)
		}
	}
	return orphans
}
