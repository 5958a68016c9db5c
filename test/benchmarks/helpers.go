// test/benchmarks/helpers.go
package benchmarks

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/stocklens/countd/internal/core/domain"
)

func benchLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// benchmarkItem builds an item with the messiest price data the normalizer
// accepts: a current price, mixed-shape variants and a deep history.
func benchmarkItem(historyDepth int) *domain.Item {
	item := &domain.Item{
		Code:         "BENCH-001",
		Name:         "Cordless Drill 18V",
		Barcode:      "4006381333931",
		Price:        decimal.NewNullDecimal(decimal.NewFromFloat(129.99)),
		StockQty:     12,
		SerialPolicy: domain.SerialSingle,
		Category:     "power-tools",
		RawVariants: []domain.RawPriceVariant{
			{ID: "v1", Value: 119.50, Barcode: "4006381333931", Source: "supplier"},
			{ID: "v2", Value: "129.99", Label: "retail box"},
			{ID: "v3", Value: map[string]any{"mrp": 139.00}, ConditionTag: "new"},
			{ID: "v4", Value: "not-a-price"},
		},
	}
	for i := 0; i < historyDepth; i++ {
		item.PriceHistory = append(item.PriceHistory, map[string]any{
			"price":   fmt.Sprintf("%d.99", 100+i),
			"barcode": fmt.Sprintf("400638133%04d", i),
			"source":  "count",
		})
	}
	return item
}

// submittableDraft builds a draft that passes every gate check so payload
// benchmarks measure the happy path.
func submittableDraft(session domain.Session) *domain.CountDraft {
	item := benchmarkItem(3)
	draft := domain.NewCountDraft(session, item)
	draft.CountedQty = item.StockQty
	draft.Price = item.Price
	for i := 0; i < draft.ExpectedSerialCount(); i++ {
		draft.Slots = append(draft.Slots, domain.SerialSlot{
			Value: fmt.Sprintf("SN-%06d", i),
		})
	}
	return draft
}

func benchmarkSession() domain.Session {
	return domain.Session{
		ID:        "bench-session",
		Location:  domain.Location{Warehouse: "WH-01", Floor: "2", Rack: "A-17"},
		CountedBy: "bench-operator",
	}
}
