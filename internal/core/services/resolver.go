// internal/core/services/resolver.go
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/stocklens/countd/internal/core/domain"
	"github.com/stocklens/countd/internal/core/ports"
)

const (
	recentScanLimit = 20
	recentScanTTL   = 12 * time.Hour
)

// ItemResolver turns scanned or selected identifiers into catalog items and
// answers the duplicate-count question. It also keeps the per-session
// recently-scanned list and the lookup retry cool-down latches in the cache.
type ItemResolver struct {
	catalog  ports.CatalogRepository
	lines    ports.CountLineRepository
	cache    ports.CacheRepository
	cooldown time.Duration
	logger   *slog.Logger
}

func NewItemResolver(
	catalog ports.CatalogRepository,
	lines ports.CountLineRepository,
	cache ports.CacheRepository,
	cooldown time.Duration,
	logger *slog.Logger,
) *ItemResolver {
	return &ItemResolver{
		catalog:  catalog,
		lines:    lines,
		cache:    cache,
		cooldown: cooldown,
		logger:   logger.With(slog.String("service", "item_resolver")),
	}
}

// NormalizeIdentifier cleans a raw scanned identifier before any lookup.
// Short all-digit codes are zero-padded to six digits to match catalog
// barcode storage. Empty or control-character input never reaches the
// backend.
func NormalizeIdentifier(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", fmt.Errorf("empty identifier: %w", domain.ErrAmbiguousInput)
	}
	digitsOnly := true
	for _, r := range id {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("identifier contains control characters: %w", domain.ErrAmbiguousInput)
		}
		if !unicode.IsDigit(r) {
			digitsOnly = false
		}
	}
	if digitsOnly && len(id) < 6 {
		id = strings.Repeat("0", 6-len(id)) + id
	}
	return id, nil
}

// Resolve normalizes the identifier and looks the item up in the catalog.
func (r *ItemResolver) Resolve(ctx context.Context, raw string) (*domain.Item, error) {
	code, err := NormalizeIdentifier(raw)
	if err != nil {
		return nil, err
	}
	item, err := r.catalog.LookupByBarcode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", code, err)
	}
	return item, nil
}

// Search runs a free-text catalog search. Blank queries short-circuit to an
// empty result without touching the backend.
func (r *ItemResolver) Search(ctx context.Context, query string) ([]domain.ItemSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	results, err := r.catalog.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return results, nil
}

// Refresh re-reads an item from the catalog, replacing the whole record.
func (r *ItemResolver) Refresh(ctx context.Context, itemCode string) (*domain.Item, error) {
	item, err := r.catalog.Refresh(ctx, itemCode)
	if err != nil {
		return nil, fmt.Errorf("refresh %q: %w", itemCode, err)
	}
	return item, nil
}

// CheckPriorCount asks the backend whether the item was already counted in
// this session.
func (r *ItemResolver) CheckPriorCount(ctx context.Context, sessionID, itemCode string) (*ports.PriorCount, error) {
	prior, err := r.lines.CheckAlreadyCounted(ctx, sessionID, itemCode)
	if err != nil {
		return nil, fmt.Errorf("prior-count check for %q: %w", itemCode, err)
	}
	return prior, nil
}

// RecordRecent pushes an item code onto the session's recently-scanned list,
// most recent first, deduplicated and capped. Failures are logged and
// swallowed; the list is a convenience, not a record.
func (r *ItemResolver) RecordRecent(ctx context.Context, sessionID, itemCode string) {
	key := recentKey(sessionID)
	var codes []string
	if err := r.cache.Get(ctx, key, &codes); err != nil {
		codes = nil
	}

	updated := make([]string, 0, recentScanLimit)
	updated = append(updated, itemCode)
	for _, c := range codes {
		if c == itemCode {
			continue
		}
		updated = append(updated, c)
		if len(updated) == recentScanLimit {
			break
		}
	}

	if err := r.cache.SetWithTTL(ctx, key, updated, recentScanTTL); err != nil {
		r.logger.Warn("failed to record recent scan",
			slog.String("session_id", sessionID),
			slog.String("item_code", itemCode),
			slog.String("error", err.Error()))
	}
}

// RecentScans returns the session's recently-scanned item codes, most recent
// first. A cache miss or error yields an empty list.
func (r *ItemResolver) RecentScans(ctx context.Context, sessionID string) []string {
	var codes []string
	if err := r.cache.Get(ctx, recentKey(sessionID), &codes); err != nil {
		return nil
	}
	return codes
}

// AllowRetry arms the manual retry cool-down for a failed lookup. The first
// call per identifier within the cool-down wins; later calls get the time
// remaining until the latch expires.
func (r *ItemResolver) AllowRetry(ctx context.Context, identifier string) (bool, time.Duration, error) {
	key := "lookup:cooldown:" + identifier
	ok, err := r.cache.SetNX(ctx, key, 1, r.cooldown)
	if err != nil {
		// A broken cache must not strand the operator on a dead lookup.
		r.logger.Warn("cool-down latch unavailable, allowing retry",
			slog.String("error", err.Error()))
		return true, 0, nil
	}
	if ok {
		return true, 0, nil
	}
	remaining, err := r.cache.TTL(ctx, key)
	if err != nil || remaining < 0 {
		remaining = r.cooldown
	}
	return false, remaining, nil
}

func recentKey(sessionID string) string {
	return "session:recent:" + sessionID
}
