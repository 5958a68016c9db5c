// internal/core/services/mrp_test.go
package services

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocklens/countd/internal/core/domain"
)

func testNormalizer() *MRPNormalizer {
	return NewMRPNormalizer(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCoercePrice(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want string
		ok   bool
	}{
		{name: "float", raw: 199.999, want: "200.00", ok: true},
		{name: "int", raw: 42, want: "42.00", ok: true},
		{name: "numeric string", raw: " 19.50 ", want: "19.50", ok: true},
		{name: "json number", raw: json.Number("7.25"), want: "7.25", ok: true},
		{name: "decimal", raw: decimal.NewFromFloat(3.456), want: "3.46", ok: true},
		{name: "map with mrp key", raw: map[string]any{"mrp": 12.5}, want: "12.50", ok: true},
		{name: "map with nested price string", raw: map[string]any{"price": "99"}, want: "99.00", ok: true},
		{name: "map prefers mrp over price", raw: map[string]any{"price": 5.0, "mrp": 6.0}, want: "6.00", ok: true},
		{name: "map without value key", raw: map[string]any{"note": "n/a"}, ok: false},
		{name: "negative", raw: -1.0, ok: false},
		{name: "garbage string", raw: "abc", ok: false},
		{name: "empty string", raw: "", ok: false},
		{name: "nil", raw: nil, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CoercePrice(tt.raw)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.StringFixed(2))
			}
		})
	}
}

func TestMRPNormalizer_Normalize(t *testing.T) {
	n := testNormalizer()

	item := &domain.Item{
		Code:  "ITM-1",
		Price: decimal.NewNullDecimal(decimal.NewFromFloat(150)),
		RawVariants: []domain.RawPriceVariant{
			{ID: "v1", Value: 120.0, Barcode: "890120", Label: "old pack"},
			{Value: "not a price"},
			{Value: map[string]any{"amount": 180}, Barcode: "890180"},
		},
		PriceHistory: []any{
			"120.00", // duplicate of v1 value, no barcode so distinct key
			map[string]any{"price": 120.0, "barcode": "890120", "source": "audit_2025"},
			-7.0,
		},
	}

	variants := n.Normalize(item)
	require.Len(t, variants, 4)

	// Ascending by value, barcode breaking ties.
	assert.Equal(t, "120.00", variants[0].Value.StringFixed(2))
	assert.Empty(t, variants[0].Barcode)
	assert.Equal(t, "120.00", variants[1].Value.StringFixed(2))
	assert.Equal(t, "890120", variants[1].Barcode)
	assert.Equal(t, "150.00", variants[2].Value.StringFixed(2))
	assert.Equal(t, "180.00", variants[3].Value.StringFixed(2))

	// The history duplicate merged into v1, filling its empty source.
	assert.Equal(t, "v1", variants[1].ID)
	assert.Equal(t, "old pack", variants[1].Label)
	assert.Equal(t, "audit_2025", variants[1].Source)
}

func TestMRPNormalizer_NormalizeNilAndEmpty(t *testing.T) {
	n := testNormalizer()

	assert.Nil(t, n.Normalize(nil))
	assert.Empty(t, n.Normalize(&domain.Item{Code: "ITM-2"}))
}

func TestMRPNormalizer_DefaultPriceFor(t *testing.T) {
	n := testNormalizer()

	tests := []struct {
		name string
		item *domain.Item
		want string
	}{
		{
			name: "latest parseable history entry wins",
			item: &domain.Item{
				Price:        decimal.NewNullDecimal(decimal.NewFromInt(100)),
				PriceHistory: []any{50.0, 75.0, "junk"},
			},
			want: "75.00",
		},
		{
			name: "falls back to current price",
			item: &domain.Item{
				Price:        decimal.NewNullDecimal(decimal.NewFromInt(100)),
				PriceHistory: []any{"junk"},
			},
			want: "100.00",
		},
		{
			name: "falls back to highest variant",
			item: &domain.Item{
				RawVariants: []domain.RawPriceVariant{{Value: 30.0}, {Value: 80.0}},
			},
			want: "80.00",
		},
		{
			name: "nothing usable",
			item: &domain.Item{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, n.DefaultPriceFor(tt.item))
		})
	}
}

func TestMRPNormalizer_Match(t *testing.T) {
	n := testNormalizer()
	variants := []domain.PriceVariant{
		{ID: "a", Value: decimal.NewFromFloat(99.99)},
		{ID: "b", Value: decimal.NewFromFloat(150.00)},
	}

	m := n.Match(variants, decimal.NewFromFloat(99.995))
	require.NotNil(t, m, "diff below tolerance matches")
	assert.Equal(t, "a", m.ID)

	m = n.Match(variants, decimal.NewFromFloat(150.005))
	require.NotNil(t, m)
	assert.Equal(t, "b", m.ID)

	assert.Nil(t, n.Match(variants, decimal.NewFromFloat(100.00)),
		"a full cent off is a different price")
	assert.Nil(t, n.Match(variants, decimal.NewFromFloat(120)))
	assert.Nil(t, n.Match(nil, decimal.NewFromFloat(99.99)))
}
