// internal/core/domain/draft.go
package domain

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PhotoKind classifies a captured photo proof.
type PhotoKind string

// Photo kind constants
const (
	PhotoItem   PhotoKind = "ITEM"
	PhotoShelf  PhotoKind = "SHELF"
	PhotoSerial PhotoKind = "SERIAL"
	PhotoDamage PhotoKind = "DAMAGE"
)

// SerialSlot is one serial-number input slot. Slots are created and destroyed
// only by the slot manager, never directly by callers.
type SerialSlot struct {
	ID           uuid.UUID `json:"id"`
	OrdinalLabel string    `json:"ordinal_label"`
	Value        string    `json:"value"`
}

// PhotoProof is one captured photo. Created only through an explicit capture
// action; never mutated, only removed. The image bytes live in object
// storage under ObjectKey.
type PhotoProof struct {
	ID          uuid.UUID `json:"id"`
	Kind        PhotoKind `json:"kind"`
	CapturedAt  time.Time `json:"captured_at"`
	ObjectKey   string    `json:"object_key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int       `json:"size_bytes"`
}

// CountDraft is the in-progress record of one physical count attempt for one
// item. All derived quantities (variance, expected serial count) are
// recomputed from current state on every read, never stored.
type CountDraft struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
	Item      *Item     `json:"item"`

	CountedQty             int `json:"counted_qty"`
	ReturnableDamageQty    int `json:"returnable_damage_qty"`
	NonReturnableDamageQty int `json:"non_returnable_damage_qty"`

	Price          decimal.NullDecimal `json:"price"`
	MatchedVariant *PriceVariant       `json:"matched_variant,omitempty"`
	ConditionTag   string              `json:"condition_tag,omitempty"`
	// ConditionManual marks an operator override; variant matching must not
	// clobber the condition while it is set. Cleared when a new item loads.
	ConditionManual bool `json:"condition_manual"`

	SerialCapture bool         `json:"serial_capture"`
	Slots         []SerialSlot `json:"slots"`
	Photos        []PhotoProof `json:"photos"`

	Reason   *VarianceReason `json:"reason,omitempty"`
	Note     string          `json:"note,omitempty"`
	Remark   string          `json:"remark,omitempty"`
	Location Location        `json:"location"`

	StartedAt time.Time `json:"started_at"`
}

// NewCountDraft creates an empty draft for a freshly resolved item.
func NewCountDraft(session Session, item *Item) *CountDraft {
	d := &CountDraft{
		ID:        uuid.New(),
		SessionID: session.ID,
		Item:      item,
		Location:  session.Location,
		StartedAt: time.Now(),
	}
	if item != nil {
		d.ConditionTag = item.ConditionTag
		d.SerialCapture = item.SerialPolicy.Mandatory()
	}
	return d
}

// Variance is counted plus returnable damage minus recorded stock.
func (d *CountDraft) Variance() int {
	if d.Item == nil {
		return 0
	}
	return d.CountedQty + d.ReturnableDamageQty - d.Item.StockQty
}

// ExpectedSerialCount is the exact number of non-empty serials the draft must
// carry before submission.
func (d *CountDraft) ExpectedSerialCount() int {
	if d.Item == nil {
		return 0
	}
	return d.Item.SerialPolicy.PerUnitRequirement(d.SerialCapture) * d.CountedQty
}

// RecordedSerials returns the non-empty serial values in slot order.
func (d *CountDraft) RecordedSerials() []string {
	var out []string
	for _, s := range d.Slots {
		if s.Value != "" {
			out = append(out, s.Value)
		}
	}
	return out
}

// PhotoCount returns how many photos of the given kind are attached.
func (d *CountDraft) PhotoCount(kind PhotoKind) int {
	n := 0
	for _, p := range d.Photos {
		if p.Kind == kind {
			n++
		}
	}
	return n
}

// SerialPhotoShortfall is how many more SERIAL photos are needed to cover the
// recorded serials. Zero when photo capture is unsupported.
func (d *CountDraft) SerialPhotoShortfall(photoCapture bool) int {
	if !photoCapture {
		return 0
	}
	missing := len(d.RecordedSerials()) - d.PhotoCount(PhotoSerial)
	if missing < 0 {
		return 0
	}
	return missing
}

// PriceDiffersFromCatalog reports whether the chosen price deviates from the
// item's current price by at least the tolerance. An absent chosen price
// never deviates; an absent catalog price always does.
func (d *CountDraft) PriceDiffersFromCatalog() bool {
	if !d.Price.Valid || d.Item == nil {
		return false
	}
	if !d.Item.Price.Valid {
		return true
	}
	return d.Price.Decimal.Sub(d.Item.Price.Decimal).Abs().GreaterThanOrEqual(PriceTolerance)
}

// NormalizeSerial trims and uppercases a raw serial value. Uniqueness checks
// operate on the normalized form.
func NormalizeSerial(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ParseQuantity converts raw operator input into a counted quantity.
// Fractional input rounds down to the nearest whole unit; non-numeric or
// non-positive input yields 0, which blocks submission.
func ParseQuantity(raw string) int {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	return int(math.Floor(f))
}

// ParsePrice converts raw operator input into a chosen price. Empty input
// clears the price; negative or unparseable input is a validation error.
func ParsePrice(raw string) (decimal.NullDecimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	p, err := decimal.NewFromString(raw)
	if err != nil || p.IsNegative() {
		return decimal.NullDecimal{}, ErrValidation
	}
	return decimal.NullDecimal{Decimal: p.Round(2), Valid: true}, nil
}
