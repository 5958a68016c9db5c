// internal/adapters/db/countline_repository.go
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/stocklens/countd/internal/core/domain"
	"github.com/stocklens/countd/internal/core/ports"
)

// countLineRepository implements ports.CountLineRepository. A submission is
// one transaction covering the line, its serials and any price update, so a
// half-written count can never be read back.
type countLineRepository struct {
	db     *Database
	sb     squirrel.StatementBuilderType
	logger *slog.Logger
}

// NewCountLineRepository creates a new count-line repository.
func NewCountLineRepository(db *Database, logger *slog.Logger) ports.CountLineRepository {
	return &countLineRepository{
		db:     db,
		sb:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		logger: logger.With(slog.String("repository", "count_line")),
	}
}

// CheckAlreadyCounted returns prior count lines for the item in this
// session, most recent first.
func (r *countLineRepository) CheckAlreadyCounted(ctx context.Context, sessionID, itemCode string) (*ports.PriorCount, error) {
	query, args, err := r.sb.
		Select("id", "counted_qty", "created_at").
		From("count_lines").
		Where(squirrel.Eq{"session_id": sessionID, "item_code": itemCode}).
		OrderBy("created_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build prior-count query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapError(ctx, err, "prior-count check")
	}
	defer rows.Close()

	prior := &ports.PriorCount{}
	for rows.Next() {
		var line ports.PriorCountLine
		if err := rows.Scan(&line.ID, &line.CountedQty, &line.CountedAt); err != nil {
			return nil, fmt.Errorf("scan prior line: %w", err)
		}
		prior.Lines = append(prior.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapError(ctx, err, "prior-count check")
	}
	prior.AlreadyCounted = len(prior.Lines) > 0
	return prior, nil
}

// ListVarianceReasons returns the selectable variance reasons in display
// order.
func (r *countLineRepository) ListVarianceReasons(ctx context.Context) ([]domain.VarianceReason, error) {
	query, args, err := r.sb.
		Select("code", "label").
		From("variance_reasons").
		Where(squirrel.Eq{"active": true}).
		OrderBy("sort_order ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reasons query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapError(ctx, err, "list variance reasons")
	}
	defer rows.Close()

	var reasons []domain.VarianceReason
	for rows.Next() {
		var vr domain.VarianceReason
		if err := rows.Scan(&vr.Code, &vr.Label); err != nil {
			return nil, fmt.Errorf("scan variance reason: %w", err)
		}
		reasons = append(reasons, vr)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapError(ctx, err, "list variance reasons")
	}
	return reasons, nil
}

// CreateCountLine writes the count line, its serials and any price update in
// one transaction.
func (r *countLineRepository) CreateCountLine(ctx context.Context, payload *domain.CountLinePayload) (*domain.CountLine, error) {
	line := &domain.CountLine{
		ID:         uuid.New(),
		SessionID:  payload.SessionID,
		ItemCode:   payload.ItemCode,
		CountedQty: payload.CountedQty,
	}

	photosJSON, err := json.Marshal(payload.Photos)
	if err != nil {
		return nil, fmt.Errorf("encode photo refs: %w", err)
	}

	err = r.db.Transaction(ctx, func(tx pgx.Tx) error {
		const insertLine = `
			INSERT INTO count_lines (
				id, session_id, item_code, stock_qty, counted_qty,
				returnable_damage_qty, non_returnable_damage_qty,
				reason_code, note, remark, condition_tag,
				warehouse, floor, rack, photos,
				expected_serial_count, counted_by, counted_at
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16, $17, $18
			) RETURNING created_at`

		err := tx.QueryRow(ctx, insertLine,
			line.ID, payload.SessionID, payload.ItemCode, payload.StockQty, payload.CountedQty,
			payload.ReturnableDamageQty, payload.NonReturnableDamageQty,
			nullIfEmpty(payload.ReasonCode), payload.Note, payload.Remark, payload.ConditionTag,
			payload.Location.Warehouse, payload.Location.Floor, payload.Location.Rack, photosJSON,
			payload.ExpectedSerialCount, payload.CountedBy, payload.CountedAt,
		).Scan(&line.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert count line: %w", err)
		}

		if len(payload.Serials) > 0 {
			batch := &pgx.Batch{}
			const insertSerial = `
				INSERT INTO count_line_serials (line_id, position, value, recorded_at)
				VALUES ($1, $2, $3, $4)`
			for i, s := range payload.Serials {
				batch.Queue(insertSerial, line.ID, i+1, s.Value, s.RecordedAt)
			}
			br := tx.SendBatch(ctx, batch)
			defer br.Close()
			for range payload.Serials {
				if _, err := br.Exec(); err != nil {
					return fmt.Errorf("insert serial: %w", err)
				}
			}
		}

		if payload.PriceUpdate != nil {
			if err := r.applyPriceUpdate(ctx, tx, payload); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, r.mapError(ctx, err, "create count line")
	}

	r.logger.InfoContext(ctx, "count line created",
		slog.String("line_id", line.ID.String()),
		slog.String("item_code", payload.ItemCode),
		slog.Int("counted_qty", payload.CountedQty))
	return line, nil
}

// applyPriceUpdate appends the chosen price to the item's history and moves
// the current price.
func (r *countLineRepository) applyPriceUpdate(ctx context.Context, tx pgx.Tx, payload *domain.CountLinePayload) error {
	entry, err := json.Marshal(map[string]any{
		"price":      payload.PriceUpdate.Value,
		"variant_id": payload.PriceUpdate.VariantID,
		"barcode":    payload.PriceUpdate.Barcode,
		"source":     payload.PriceUpdate.Source,
		"session_id": payload.SessionID,
		"applied_at": payload.CountedAt,
	})
	if err != nil {
		return fmt.Errorf("encode price history entry: %w", err)
	}

	const updateItem = `
		UPDATE items SET
			price = $2,
			price_history = COALESCE(price_history, '[]'::jsonb) || $3::jsonb,
			updated_at = NOW()
		WHERE code = $1`
	tag, err := tx.Exec(ctx, updateItem, payload.ItemCode, payload.PriceUpdate.Value, entry)
	if err != nil {
		return fmt.Errorf("apply price update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("price update for %s: %w", payload.ItemCode, domain.ErrNotFound)
	}
	return nil
}

// AddQuantityToLine increments an existing line's counted quantity.
func (r *countLineRepository) AddQuantityToLine(ctx context.Context, lineID uuid.UUID, additionalQty int) (*domain.CountLine, error) {
	const query = `
		UPDATE count_lines
		SET counted_qty = counted_qty + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, session_id, item_code, counted_qty, created_at`

	line := &domain.CountLine{}
	err := r.db.QueryRow(ctx, query, lineID, additionalQty).Scan(
		&line.ID, &line.SessionID, &line.ItemCode, &line.CountedQty, &line.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("count line %s: %w", lineID, domain.ErrNotFound)
		}
		return nil, r.mapError(ctx, err, "add quantity")
	}
	return line, nil
}

// MarkItemVerified flags the item as verified in this session. Callers treat
// failures as non-fatal; this method just reports them honestly.
func (r *countLineRepository) MarkItemVerified(ctx context.Context, itemCode string, details domain.VerificationDetails) error {
	const query = `
		UPDATE items
		SET last_verified_at = $2, last_verified_by = $3, updated_at = NOW()
		WHERE code = $1`

	tag, err := r.db.Exec(ctx, query, itemCode, details.VerifiedAt, details.CountedBy)
	if err != nil {
		return r.mapError(ctx, err, "mark verified")
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark verified %s: %w", itemCode, domain.ErrNotFound)
	}
	return nil
}

func (r *countLineRepository) mapError(ctx context.Context, err error, op string) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) {
		return err
	}
	r.logger.WarnContext(ctx, "count-line query failed",
		slog.String("op", op),
		slog.String("error", err.Error()))
	return fmt.Errorf("%s: %v: %w", op, err, domain.ErrNetwork)
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
