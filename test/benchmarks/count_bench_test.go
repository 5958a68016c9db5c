package benchmarks

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stocklens/countd/internal/core/domain"
	"github.com/stocklens/countd/internal/core/services"
)

func BenchmarkNormalizeIdentifier(b *testing.B) {
	inputs := []string{
		"4006381333931",
		"123",
		"  ITM-0042  ",
		"000123",
		"A1B2C3D4E5",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = services.NormalizeIdentifier(inputs[i%len(inputs)])
	}
}

func BenchmarkMRPNormalize(b *testing.B) {
	normalizer := services.NewMRPNormalizer(benchLogger())

	for _, depth := range []int{0, 10, 100} {
		b.Run(fmt.Sprintf("history_%d", depth), func(b *testing.B) {
			item := benchmarkItem(depth)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = normalizer.Normalize(item)
			}
		})
	}
}

func BenchmarkCoercePrice(b *testing.B) {
	inputs := []any{
		129.99,
		"129.99",
		map[string]any{"mrp": "139.00"},
		map[string]any{"amount": 99},
		"not-a-price",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = services.CoercePrice(inputs[i%len(inputs)])
	}
}

func BenchmarkGateEvaluate(b *testing.B) {
	gate := services.NewSubmissionGate(false, benchLogger())
	draft := submittableDraft(benchmarkSession())

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = gate.Evaluate(draft)
	}
}

func BenchmarkGateBuildPayload(b *testing.B) {
	gate := services.NewSubmissionGate(false, benchLogger())
	session := benchmarkSession()
	draft := submittableDraft(session)
	draft.Price = decimal.NewNullDecimal(decimal.NewFromFloat(119.50))
	now := time.Now()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := gate.BuildPayload(draft, session, now); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkScanGuard(b *testing.B) {
	b.Run("Debounced", func(b *testing.B) {
		guard := services.NewScanGuard(15*time.Second, 1500*time.Millisecond, 5, benchLogger())
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			_ = guard.Debounced(fmt.Sprintf("CODE-%d", i%3))
		}
	})

	b.Run("Register", func(b *testing.B) {
		guard := services.NewScanGuard(15*time.Second, 1500*time.Millisecond, 5, benchLogger())
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if guard.Register(fmt.Sprintf("CODE-%d", i%3)) {
				guard.Reset()
			}
		}
	})
}

func BenchmarkSerialRouting(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		m := services.NewSerialSlotManager(domain.SerialDual, benchLogger())
		m.SetRequiredCount(8)
		slots := m.Slots()
		_ = m.SetScanTarget(slots[0].ID)
		for j := 0; j < 8; j++ {
			if _, err := m.RouteScan(fmt.Sprintf("SN-%d-%d", i, j)); err != nil {
				b.Fatal(err)
			}
		}
	}
}

func BenchmarkDraftAllocation(b *testing.B) {
	session := benchmarkSession()
	item := benchmarkItem(3)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = domain.NewCountDraft(session, item)
	}
}
