// internal/core/services/gate.go
package services

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/stocklens/countd/internal/core/domain"
)

// BlockCode identifies why a draft cannot be submitted yet.
type BlockCode string

// Submission block codes, in evaluation order.
const (
	BlockNoItem             BlockCode = "no_item"
	BlockQuantityMissing    BlockCode = "quantity_missing"
	BlockPriceInvalid       BlockCode = "price_invalid"
	BlockReasonRequired     BlockCode = "variance_reason_required"
	BlockSerialShortfall    BlockCode = "serial_shortfall"
	BlockSerialExcess       BlockCode = "serial_excess"
	BlockSerialPhotoMissing BlockCode = "serial_photo_missing"
)

// Block is one submission-blocking condition with an operator-facing message.
type Block struct {
	Code    BlockCode `json:"code"`
	Message string    `json:"message"`
}

// Evaluation is the gate's verdict on a draft, recomputed from scratch on
// every call.
type Evaluation struct {
	CanSubmit           bool    `json:"can_submit"`
	Blocks              []Block `json:"blocks,omitempty"`
	Variance            int     `json:"variance"`
	ExpectedSerials     int     `json:"expected_serials"`
	RecordedSerials     int     `json:"recorded_serials"`
	MissingSerialPhotos int     `json:"missing_serial_photos"`
}

// SubmissionGate decides whether a draft is complete and builds the outbound
// payload. It is the only component allowed to say a count is submittable.
type SubmissionGate struct {
	photoCapture bool
	logger       *slog.Logger
}

// NewSubmissionGate builds a gate. photoCapture states whether this
// deployment can attach photos; when false the serial-photo rule is waived.
func NewSubmissionGate(photoCapture bool, logger *slog.Logger) *SubmissionGate {
	return &SubmissionGate{
		photoCapture: photoCapture,
		logger:       logger.With(slog.String("service", "submission_gate")),
	}
}

// PhotoCaptureSupported reports the deployment's photo capability.
func (g *SubmissionGate) PhotoCaptureSupported() bool { return g.photoCapture }

// Evaluate runs the ordered completeness checks against the draft. The first
// failing check blocks; later checks are not reported so the operator fixes
// one thing at a time.
func (g *SubmissionGate) Evaluate(d *domain.CountDraft) Evaluation {
	ev := Evaluation{}
	if d == nil || d.Item == nil {
		ev.Blocks = append(ev.Blocks, Block{BlockNoItem, "no item loaded"})
		return ev
	}

	ev.Variance = d.Variance()
	ev.ExpectedSerials = d.ExpectedSerialCount()
	ev.RecordedSerials = len(d.RecordedSerials())
	ev.MissingSerialPhotos = d.SerialPhotoShortfall(g.photoCapture)

	switch {
	case d.CountedQty <= 0:
		ev.Blocks = append(ev.Blocks, Block{BlockQuantityMissing,
			"counted quantity must be a positive whole number"})
	case d.Price.Valid && d.Price.Decimal.IsNegative():
		ev.Blocks = append(ev.Blocks, Block{BlockPriceInvalid,
			"price cannot be negative"})
	case ev.Variance != 0 && d.Reason == nil:
		ev.Blocks = append(ev.Blocks, Block{BlockReasonRequired,
			fmt.Sprintf("variance of %+d requires a reason", ev.Variance)})
	case ev.RecordedSerials < ev.ExpectedSerials:
		ev.Blocks = append(ev.Blocks, Block{BlockSerialShortfall,
			fmt.Sprintf("%d of %d serial numbers recorded", ev.RecordedSerials, ev.ExpectedSerials)})
	case ev.ExpectedSerials > 0 && ev.RecordedSerials > ev.ExpectedSerials:
		ev.Blocks = append(ev.Blocks, Block{BlockSerialExcess,
			fmt.Sprintf("%d serial numbers recorded but only %d expected", ev.RecordedSerials, ev.ExpectedSerials)})
	case ev.RecordedSerials > 0 && ev.MissingSerialPhotos > 0:
		ev.Blocks = append(ev.Blocks, Block{BlockSerialPhotoMissing,
			fmt.Sprintf("%d serial photo(s) still required", ev.MissingSerialPhotos)})
	}

	ev.CanSubmit = len(ev.Blocks) == 0
	return ev
}

// BuildPayload turns a passing draft into the outbound count line. Serials
// are stamped with the submission time, and a price update rides along only
// when the chosen price deviates from the catalog beyond tolerance.
func (g *SubmissionGate) BuildPayload(d *domain.CountDraft, session domain.Session, now time.Time) (*domain.CountLinePayload, error) {
	ev := g.Evaluate(d)
	if !ev.CanSubmit {
		return nil, fmt.Errorf("draft blocked by %s: %w", ev.Blocks[0].Code, domain.ErrValidation)
	}

	p := &domain.CountLinePayload{
		SessionID:              session.ID,
		ItemCode:               d.Item.Code,
		StockQty:               d.Item.StockQty,
		CountedQty:             d.CountedQty,
		ReturnableDamageQty:    d.ReturnableDamageQty,
		NonReturnableDamageQty: d.NonReturnableDamageQty,
		Note:                   d.Note,
		Remark:                 d.Remark,
		ConditionTag:           d.ConditionTag,
		Location:               d.Location,
		ExpectedSerialCount:    ev.ExpectedSerials,
		SerialPhotoSupported:   g.photoCapture,
		CountedBy:              session.CountedBy,
		CountedAt:              now,
	}
	if d.Reason != nil {
		p.ReasonCode = d.Reason.Code
	}
	for _, value := range d.RecordedSerials() {
		p.Serials = append(p.Serials, domain.SerialEntry{Value: value, RecordedAt: now})
	}
	for _, photo := range d.Photos {
		p.Photos = append(p.Photos, domain.PhotoRef{
			ID:         photo.ID,
			Kind:       photo.Kind,
			ObjectKey:  photo.ObjectKey,
			CapturedAt: photo.CapturedAt,
		})
	}
	if d.PriceDiffersFromCatalog() {
		update := &domain.PriceUpdate{
			Value:  d.Price.Decimal,
			Source: domain.PriceSourceManual,
		}
		if v := d.MatchedVariant; v != nil {
			update.VariantID = v.ID
			update.Barcode = v.Barcode
			if v.Source != "" {
				update.Source = v.Source
			}
		}
		p.PriceUpdate = update
	}
	return p, nil
}

// VerifyPayload re-derives the completeness checks from the payload alone.
// Any payload produced by BuildPayload must pass; used as a final tripwire
// before the network call.
func (g *SubmissionGate) VerifyPayload(p *domain.CountLinePayload) Evaluation {
	ev := Evaluation{
		Variance:        p.CountedQty + p.ReturnableDamageQty - p.StockQty,
		ExpectedSerials: p.ExpectedSerialCount,
		RecordedSerials: len(p.Serials),
	}
	if p.SerialPhotoSupported && len(p.Serials) > 0 {
		serialPhotos := 0
		for _, ph := range p.Photos {
			if ph.Kind == domain.PhotoSerial {
				serialPhotos++
			}
		}
		if missing := len(p.Serials) - serialPhotos; missing > 0 {
			ev.MissingSerialPhotos = missing
		}
	}

	switch {
	case p.ItemCode == "":
		ev.Blocks = append(ev.Blocks, Block{BlockNoItem, "payload carries no item"})
	case p.CountedQty <= 0:
		ev.Blocks = append(ev.Blocks, Block{BlockQuantityMissing, "counted quantity missing"})
	case p.PriceUpdate != nil && p.PriceUpdate.Value.IsNegative():
		ev.Blocks = append(ev.Blocks, Block{BlockPriceInvalid, "negative price update"})
	case ev.Variance != 0 && p.ReasonCode == "":
		ev.Blocks = append(ev.Blocks, Block{BlockReasonRequired, "variance without reason"})
	case ev.RecordedSerials < ev.ExpectedSerials:
		ev.Blocks = append(ev.Blocks, Block{BlockSerialShortfall, "serials below expected count"})
	case ev.ExpectedSerials > 0 && ev.RecordedSerials > ev.ExpectedSerials:
		ev.Blocks = append(ev.Blocks, Block{BlockSerialExcess, "serials above expected count"})
	case ev.MissingSerialPhotos > 0:
		ev.Blocks = append(ev.Blocks, Block{BlockSerialPhotoMissing, "serial photos missing"})
	}

	ev.CanSubmit = len(ev.Blocks) == 0
	return ev
}
