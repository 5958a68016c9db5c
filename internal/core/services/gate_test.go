// internal/core/services/gate_test.go
package services

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocklens/countd/internal/core/domain"
)

func testGate(photoCapture bool) *SubmissionGate {
	return NewSubmissionGate(photoCapture, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testSession() domain.Session {
	return domain.Session{
		ID:        "sess-42",
		Location:  domain.Location{Warehouse: "WH-A", Floor: "2", Rack: "R-17"},
		CountedBy: "op-7",
	}
}

// completeDraft builds a draft that passes every gate check: dual-serial item,
// quantity 1, two serials, two serial photos, zero variance.
func completeDraft() *domain.CountDraft {
	item := &domain.Item{
		Code:         "ITM-9",
		Price:        decimal.NewNullDecimal(decimal.NewFromInt(500)),
		StockQty:     1,
		SerialPolicy: domain.SerialDual,
	}
	d := domain.NewCountDraft(testSession(), item)
	d.CountedQty = 1
	d.Slots = []domain.SerialSlot{
		{ID: uuid.New(), OrdinalLabel: "Serial #1", Value: "SN-A"},
		{ID: uuid.New(), OrdinalLabel: "Serial #2", Value: "SN-B"},
	}
	d.Photos = []domain.PhotoProof{
		{ID: uuid.New(), Kind: domain.PhotoSerial, ObjectKey: "proofs/a"},
		{ID: uuid.New(), Kind: domain.PhotoSerial, ObjectKey: "proofs/b"},
	}
	return d
}

func TestSubmissionGate_Evaluate(t *testing.T) {
	tests := []struct {
		name         string
		photoCapture bool
		mutate       func(d *domain.CountDraft)
		wantBlock    BlockCode
	}{
		{
			name:   "complete draft passes",
			mutate: func(d *domain.CountDraft) {},
		},
		{
			name:      "zero quantity blocks",
			mutate:    func(d *domain.CountDraft) { d.CountedQty = 0 },
			wantBlock: BlockQuantityMissing,
		},
		{
			name: "variance without reason blocks",
			mutate: func(d *domain.CountDraft) {
				d.CountedQty = 3
				d.Slots = append(d.Slots,
					domain.SerialSlot{ID: uuid.New(), Value: "SN-C"},
					domain.SerialSlot{ID: uuid.New(), Value: "SN-D"},
					domain.SerialSlot{ID: uuid.New(), Value: "SN-E"},
					domain.SerialSlot{ID: uuid.New(), Value: "SN-F"})
				d.Photos = nil // photo rule disabled for this case
			},
			wantBlock: BlockReasonRequired,
		},
		{
			name: "variance with reason passes photo-free deployment",
			mutate: func(d *domain.CountDraft) {
				d.CountedQty = 3
				d.Reason = &domain.VarianceReason{Code: "found_stock", Label: "Found stock"}
				d.Slots = append(d.Slots,
					domain.SerialSlot{ID: uuid.New(), Value: "SN-C"},
					domain.SerialSlot{ID: uuid.New(), Value: "SN-D"},
					domain.SerialSlot{ID: uuid.New(), Value: "SN-E"},
					domain.SerialSlot{ID: uuid.New(), Value: "SN-F"})
				d.Photos = nil
			},
		},
		{
			name:      "serial shortfall blocks",
			mutate:    func(d *domain.CountDraft) { d.Slots[1].Value = "" },
			wantBlock: BlockSerialShortfall,
		},
		{
			name: "serial excess blocks",
			mutate: func(d *domain.CountDraft) {
				d.Slots = append(d.Slots, domain.SerialSlot{ID: uuid.New(), Value: "SN-C"})
			},
			wantBlock: BlockSerialExcess,
		},
		{
			name:         "missing serial photo blocks when supported",
			photoCapture: true,
			mutate:       func(d *domain.CountDraft) { d.Photos = d.Photos[:1] },
			wantBlock:    BlockSerialPhotoMissing,
		},
		{
			name:   "missing serial photo ignored when unsupported",
			mutate: func(d *domain.CountDraft) { d.Photos = nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGate(tt.photoCapture)
			d := completeDraft()
			tt.mutate(d)

			ev := g.Evaluate(d)
			if tt.wantBlock == "" {
				assert.True(t, ev.CanSubmit, "blocks: %v", ev.Blocks)
				assert.Empty(t, ev.Blocks)
			} else {
				require.False(t, ev.CanSubmit)
				require.Len(t, ev.Blocks, 1, "first failure short-circuits")
				assert.Equal(t, tt.wantBlock, ev.Blocks[0].Code)
			}
		})
	}
}

func TestSubmissionGate_EvaluateNilDraft(t *testing.T) {
	g := testGate(true)

	ev := g.Evaluate(nil)
	require.False(t, ev.CanSubmit)
	assert.Equal(t, BlockNoItem, ev.Blocks[0].Code)
}

func TestSubmissionGate_BuildPayload(t *testing.T) {
	g := testGate(true)
	d := completeDraft()
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	p, err := g.BuildPayload(d, testSession(), now)
	require.NoError(t, err)

	assert.Equal(t, "sess-42", p.SessionID)
	assert.Equal(t, "ITM-9", p.ItemCode)
	assert.Equal(t, 1, p.CountedQty)
	assert.Equal(t, "op-7", p.CountedBy)
	assert.Equal(t, now, p.CountedAt)
	assert.Equal(t, 2, p.ExpectedSerialCount)
	assert.True(t, p.SerialPhotoSupported)

	require.Len(t, p.Serials, 2)
	for _, s := range p.Serials {
		assert.Equal(t, now, s.RecordedAt, "serials stamped at submission, not capture")
	}
	require.Len(t, p.Photos, 2)
	assert.Nil(t, p.PriceUpdate, "price equals catalog, nothing to update")
}

func TestSubmissionGate_BuildPayloadPriceUpdate(t *testing.T) {
	g := testGate(true)
	now := time.Now()

	t.Run("manual price deviation", func(t *testing.T) {
		d := completeDraft()
		d.Price = decimal.NewNullDecimal(decimal.NewFromInt(480))

		p, err := g.BuildPayload(d, testSession(), now)
		require.NoError(t, err)
		require.NotNil(t, p.PriceUpdate)
		assert.Equal(t, "480", p.PriceUpdate.Value.String())
		assert.Equal(t, domain.PriceSourceManual, p.PriceUpdate.Source)
		assert.Empty(t, p.PriceUpdate.VariantID)
	})

	t.Run("matched variant carries its identity", func(t *testing.T) {
		d := completeDraft()
		d.Price = decimal.NewNullDecimal(decimal.NewFromInt(480))
		d.MatchedVariant = &domain.PriceVariant{
			ID: "v480", Value: decimal.NewFromInt(480), Barcode: "890480", Source: "promo_list",
		}

		p, err := g.BuildPayload(d, testSession(), now)
		require.NoError(t, err)
		require.NotNil(t, p.PriceUpdate)
		assert.Equal(t, "v480", p.PriceUpdate.VariantID)
		assert.Equal(t, "890480", p.PriceUpdate.Barcode)
		assert.Equal(t, "promo_list", p.PriceUpdate.Source)
	})

	t.Run("blocked draft never builds", func(t *testing.T) {
		d := completeDraft()
		d.CountedQty = 0

		_, err := g.BuildPayload(d, testSession(), now)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestSubmissionGate_VerifyPayloadRoundTrip(t *testing.T) {
	g := testGate(true)

	drafts := map[string]*domain.CountDraft{
		"complete": completeDraft(),
	}
	withVariance := completeDraft()
	withVariance.CountedQty = 2
	withVariance.Reason = &domain.VarianceReason{Code: "found_stock"}
	withVariance.Slots = append(withVariance.Slots,
		domain.SerialSlot{ID: uuid.New(), Value: "SN-C"},
		domain.SerialSlot{ID: uuid.New(), Value: "SN-D"})
	withVariance.Photos = append(withVariance.Photos,
		domain.PhotoProof{ID: uuid.New(), Kind: domain.PhotoSerial},
		domain.PhotoProof{ID: uuid.New(), Kind: domain.PhotoSerial})
	drafts["with variance"] = withVariance

	for name, d := range drafts {
		t.Run(name, func(t *testing.T) {
			p, err := g.BuildPayload(d, testSession(), time.Now())
			require.NoError(t, err)

			ev := g.VerifyPayload(p)
			assert.True(t, ev.CanSubmit, "built payload must verify, blocks: %v", ev.Blocks)
		})
	}
}

func TestSubmissionGate_VerifyPayloadRejectsTampered(t *testing.T) {
	g := testGate(true)
	p, err := g.BuildPayload(completeDraft(), testSession(), time.Now())
	require.NoError(t, err)

	p.Serials = p.Serials[:1]
	ev := g.VerifyPayload(p)
	require.False(t, ev.CanSubmit)
	assert.Equal(t, BlockSerialShortfall, ev.Blocks[0].Code)
}
