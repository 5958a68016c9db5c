// internal/core/domain/item.go
package domain

import (
	"github.com/shopspring/decimal"
)

// SerialPolicy states how many unique serial numbers must accompany each
// counted unit of an item.
type SerialPolicy string

// Serial policy constants
const (
	SerialNone     SerialPolicy = "none"
	SerialOptional SerialPolicy = "optional"
	SerialSingle   SerialPolicy = "single"
	SerialDual     SerialPolicy = "dual"
)

// PerUnitRequirement returns the number of serials required per counted unit.
// An optional policy only requires serials once capture has been enabled.
func (p SerialPolicy) PerUnitRequirement(captureEnabled bool) int {
	switch p {
	case SerialSingle:
		return 1
	case SerialDual:
		return 2
	case SerialOptional:
		if captureEnabled {
			return 1
		}
		return 0
	default:
		return 0
	}
}

// Mandatory reports whether serial capture cannot be toggled off.
func (p SerialPolicy) Mandatory() bool {
	return p == SerialSingle || p == SerialDual
}

// PriceTolerance is the numeric tolerance for treating two prices as equal.
var PriceTolerance = decimal.NewFromFloat(0.01)

// PriceVariant is one normalized known price for an item, possibly tied to a
// specific packaging, condition or source. Value is always rounded to two
// decimal places and never negative.
type PriceVariant struct {
	ID           string          `json:"id,omitempty"`
	Value        decimal.Decimal `json:"value"`
	Barcode      string          `json:"barcode,omitempty"`
	Label        string          `json:"label,omitempty"`
	Source       string          `json:"source,omitempty"`
	ConditionTag string          `json:"condition_tag,omitempty"`
}

// Matches reports whether the variant's value is within PriceTolerance of the
// given price.
func (v PriceVariant) Matches(price decimal.Decimal) bool {
	return v.Value.Sub(price).Abs().LessThan(PriceTolerance)
}

// RawPriceVariant is a price variant as delivered by the backend catalog,
// before normalization. Value is heterogeneous: a bare number, a numeric
// string, or a map carrying one of several value-bearing keys.
type RawPriceVariant struct {
	ID           string `json:"id,omitempty"`
	Value        any    `json:"value"`
	Barcode      string `json:"barcode,omitempty"`
	Label        string `json:"label,omitempty"`
	Source       string `json:"source,omitempty"`
	ConditionTag string `json:"condition_tag,omitempty"`
}

// Item is a stock item as resolved from the catalog. It is immutable for the
// lifetime of a count attempt; a refresh replaces the whole record.
type Item struct {
	Code         string              `json:"code"`
	Name         string              `json:"name"`
	Barcode      string              `json:"barcode,omitempty"`
	Price        decimal.NullDecimal `json:"price"`
	RawVariants  []RawPriceVariant   `json:"price_variants,omitempty"`
	PriceHistory []any               `json:"price_history,omitempty"`
	StockQty     int                 `json:"stock_qty"`
	SerialPolicy SerialPolicy        `json:"serial_policy"`
	Category     string              `json:"category,omitempty"`
	ConditionTag string              `json:"condition_tag,omitempty"`
}

// ItemSummary is a lightweight search result row.
type ItemSummary struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Barcode string `json:"barcode,omitempty"`
}

// VarianceReason is one selectable explanation for a non-zero variance.
type VarianceReason struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// Location identifies where a count takes place.
type Location struct {
	Warehouse string `json:"warehouse"`
	Floor     string `json:"floor,omitempty"`
	Rack      string `json:"rack,omitempty"`
}

// Session is the externally supplied counting context. Read-only to the
// count engine.
type Session struct {
	ID        string   `json:"id"`
	Location  Location `json:"location"`
	CountedBy string   `json:"counted_by"`
}
