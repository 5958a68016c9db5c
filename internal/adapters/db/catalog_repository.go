// internal/adapters/db/catalog_repository.go
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/stocklens/countd/internal/core/domain"
	"github.com/stocklens/countd/internal/core/ports"
)

const searchResultLimit = 25

// catalogRepository implements ports.CatalogRepository against the items
// table. Price variants and history are stored as JSONB and handed to the
// normalizer untouched.
type catalogRepository struct {
	db     *Database
	sb     squirrel.StatementBuilderType
	logger *slog.Logger
}

// NewCatalogRepository creates a new catalog repository.
func NewCatalogRepository(db *Database, logger *slog.Logger) ports.CatalogRepository {
	return &catalogRepository{
		db:     db,
		sb:     squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		logger: logger.With(slog.String("repository", "catalog")),
	}
}

var itemColumns = []string{
	"code", "name", "barcode", "price", "price_variants", "price_history",
	"stock_qty", "serial_policy", "category", "condition_tag",
}

// LookupByBarcode resolves a normalized barcode to an item. The item code
// doubles as a lookup key so search selections reuse the same path.
func (r *catalogRepository) LookupByBarcode(ctx context.Context, code string) (*domain.Item, error) {
	query, args, err := r.sb.
		Select(itemColumns...).
		From("items").
		Where(squirrel.Or{
			squirrel.Eq{"barcode": code},
			squirrel.Eq{"code": code},
		}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lookup query: %w", err)
	}

	item, err := r.scanItem(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, r.mapError(ctx, err, "lookup", code)
	}
	return item, nil
}

// Search returns lightweight summaries matching a free-text query on name,
// code or barcode.
func (r *catalogRepository) Search(ctx context.Context, q string) ([]domain.ItemSummary, error) {
	pattern := "%" + q + "%"
	query, args, err := r.sb.
		Select("code", "name", "COALESCE(barcode, '')").
		From("items").
		Where(squirrel.Or{
			squirrel.ILike{"name": pattern},
			squirrel.ILike{"code": pattern},
			squirrel.ILike{"barcode": pattern},
		}).
		OrderBy("name ASC").
		Limit(searchResultLimit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build search query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapError(ctx, err, "search", q)
	}
	defer rows.Close()

	var results []domain.ItemSummary
	for rows.Next() {
		var s domain.ItemSummary
		if err := rows.Scan(&s.Code, &s.Name, &s.Barcode); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		results = append(results, s)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapError(ctx, err, "search", q)
	}
	return results, nil
}

// Refresh re-reads an item by code, replacing the whole record.
func (r *catalogRepository) Refresh(ctx context.Context, itemCode string) (*domain.Item, error) {
	query, args, err := r.sb.
		Select(itemColumns...).
		From("items").
		Where(squirrel.Eq{"code": itemCode}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build refresh query: %w", err)
	}

	item, err := r.scanItem(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, r.mapError(ctx, err, "refresh", itemCode)
	}
	return item, nil
}

func (r *catalogRepository) scanItem(row pgx.Row) (*domain.Item, error) {
	var (
		item         domain.Item
		barcode      pgtype.Text
		price        pgtype.Numeric
		variantsJSON []byte
		historyJSON  []byte
		category     pgtype.Text
		conditionTag pgtype.Text
	)
	err := row.Scan(
		&item.Code, &item.Name, &barcode, &price, &variantsJSON, &historyJSON,
		&item.StockQty, &item.SerialPolicy, &category, &conditionTag,
	)
	if err != nil {
		return nil, err
	}

	item.Barcode = barcode.String
	item.Category = category.String
	item.ConditionTag = conditionTag.String
	item.Price = numericToNullDecimal(price)

	if len(variantsJSON) > 0 {
		if err := json.Unmarshal(variantsJSON, &item.RawVariants); err != nil {
			return nil, fmt.Errorf("decode price variants for %s: %w", item.Code, err)
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &item.PriceHistory); err != nil {
			return nil, fmt.Errorf("decode price history for %s: %w", item.Code, err)
		}
	}
	return &item, nil
}

// mapError translates driver failures into the domain taxonomy: missing rows
// become ErrNotFound, everything reachability-related becomes ErrNetwork.
func (r *catalogRepository) mapError(ctx context.Context, err error, op, key string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", op, key, domain.ErrNotFound)
	}
	r.logger.WarnContext(ctx, "catalog query failed",
		slog.String("op", op),
		slog.String("key", key),
		slog.String("error", err.Error()))
	return fmt.Errorf("%s %q: %v: %w", op, key, err, domain.ErrNetwork)
}

func numericToNullDecimal(n pgtype.Numeric) decimal.NullDecimal {
	if !n.Valid {
		return decimal.NullDecimal{}
	}
	if n.Int == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{
		Decimal: decimal.NewFromBigInt(n.Int, n.Exp),
		Valid:   true,
	}
}
