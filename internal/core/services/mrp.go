// internal/core/services/mrp.go
package services

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/stocklens/countd/internal/core/domain"
)

// valueKeys are the value-bearing fields probed, in order, when a price
// arrives as an object instead of a bare number.
var valueKeys = []string{"mrp", "price", "value", "amount", "rate"}

// MRPNormalizer folds an item's heterogeneous price data into one ordered,
// deduplicated variant list. Catalog records accumulate prices in several
// shapes over time; everything downstream works off the normalized list.
type MRPNormalizer struct {
	logger *slog.Logger
}

func NewMRPNormalizer(logger *slog.Logger) *MRPNormalizer {
	return &MRPNormalizer{
		logger: logger.With(slog.String("service", "mrp_normalizer")),
	}
}

// Normalize merges the item's current price, declared variants and price
// history into a single variant list sorted ascending by value. Entries that
// cannot be coerced to a non-negative number are dropped. Duplicates share a
// (value, barcode) key; merging keeps the most specific metadata.
func (n *MRPNormalizer) Normalize(item *domain.Item) []domain.PriceVariant {
	if item == nil {
		return nil
	}

	var candidates []domain.PriceVariant
	if item.Price.Valid && !item.Price.Decimal.IsNegative() {
		candidates = append(candidates, domain.PriceVariant{
			Value: item.Price.Decimal.Round(2),
		})
	}
	for _, raw := range item.RawVariants {
		v, ok := CoercePrice(raw.Value)
		if !ok {
			n.logger.Debug("dropping unparseable price variant",
				slog.String("item_code", item.Code),
				slog.String("variant_id", raw.ID))
			continue
		}
		candidates = append(candidates, domain.PriceVariant{
			ID:           raw.ID,
			Value:        v,
			Barcode:      raw.Barcode,
			Label:        raw.Label,
			Source:       raw.Source,
			ConditionTag: raw.ConditionTag,
		})
	}
	for _, entry := range item.PriceHistory {
		cand, ok := variantFromHistory(entry)
		if !ok {
			continue
		}
		candidates = append(candidates, cand)
	}

	merged := make([]domain.PriceVariant, 0, len(candidates))
	index := make(map[string]int, len(candidates))
	for _, c := range candidates {
		key := c.Value.StringFixed(2) + "|" + c.Barcode
		if i, seen := index[key]; seen {
			merged[i] = mergeVariant(merged[i], c)
			continue
		}
		index[key] = len(merged)
		merged = append(merged, c)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Value.Equal(merged[j].Value) {
			return merged[i].Value.LessThan(merged[j].Value)
		}
		return merged[i].Barcode < merged[j].Barcode
	})
	return merged
}

// DefaultPriceFor picks the price to prefill when a count starts: the latest
// usable history entry, else the item's current price, else the highest
// normalized variant. Empty string when nothing is usable.
func (n *MRPNormalizer) DefaultPriceFor(item *domain.Item) string {
	if item == nil {
		return ""
	}
	for i := len(item.PriceHistory) - 1; i >= 0; i-- {
		if v, ok := variantFromHistory(item.PriceHistory[i]); ok {
			return v.Value.StringFixed(2)
		}
	}
	if item.Price.Valid && !item.Price.Decimal.IsNegative() {
		return item.Price.Decimal.StringFixed(2)
	}
	if variants := n.Normalize(item); len(variants) > 0 {
		return variants[len(variants)-1].Value.StringFixed(2)
	}
	return ""
}

// Match returns the first variant whose value is within tolerance of the
// given price, or nil when none matches.
func (n *MRPNormalizer) Match(variants []domain.PriceVariant, price decimal.Decimal) *domain.PriceVariant {
	for i := range variants {
		if variants[i].Matches(price) {
			v := variants[i]
			return &v
		}
	}
	return nil
}

// CoercePrice extracts a non-negative two-decimal price from any of the
// shapes catalog data arrives in: numbers, numeric strings, json.Number, and
// maps carrying a value-bearing key.
func CoercePrice(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case nil:
		return decimal.Decimal{}, false
	case decimal.Decimal:
		return finishPrice(v)
	case float64:
		return finishPrice(decimal.NewFromFloat(v))
	case float32:
		return finishPrice(decimal.NewFromFloat32(v))
	case int:
		return finishPrice(decimal.NewFromInt(int64(v)))
	case int64:
		return finishPrice(decimal.NewFromInt(v))
	case json.Number:
		return coerceString(v.String())
	case string:
		return coerceString(v)
	case map[string]any:
		for _, key := range valueKeys {
			if inner, ok := v[key]; ok {
				if d, ok := CoercePrice(inner); ok {
					return d, true
				}
			}
		}
		return decimal.Decimal{}, false
	default:
		return decimal.Decimal{}, false
	}
}

func coerceString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return finishPrice(d)
}

func finishPrice(d decimal.Decimal) (decimal.Decimal, bool) {
	if d.IsNegative() {
		return decimal.Decimal{}, false
	}
	return d.Round(2), true
}

// variantFromHistory turns one heterogeneous history entry into a variant
// candidate, pulling metadata fields along when the entry is an object.
func variantFromHistory(entry any) (domain.PriceVariant, bool) {
	value, ok := CoercePrice(entry)
	if !ok {
		return domain.PriceVariant{}, false
	}
	cand := domain.PriceVariant{Value: value}
	if m, isMap := entry.(map[string]any); isMap {
		cand.ID = stringField(m, "id")
		cand.Barcode = stringField(m, "barcode")
		cand.Label = stringField(m, "label")
		cand.Source = stringField(m, "source")
		cand.ConditionTag = stringField(m, "condition_tag")
	}
	return cand, true
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// mergeVariant fills empty metadata fields of the kept variant from a later
// duplicate so the most specific record wins.
func mergeVariant(kept, next domain.PriceVariant) domain.PriceVariant {
	if kept.ID == "" {
		kept.ID = next.ID
	}
	if kept.Label == "" {
		kept.Label = next.Label
	}
	if kept.Source == "" {
		kept.Source = next.Source
	}
	if kept.ConditionTag == "" {
		kept.ConditionTag = next.ConditionTag
	}
	return kept
}
