// internal/core/domain/payload.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceSourceManual marks a price that was keyed in by the operator rather
// than matched to a known variant.
const PriceSourceManual = "manual_entry"

// SerialEntry is one serial number in an outbound count line. RecordedAt is
// stamped at submission time, not at capture time.
type SerialEntry struct {
	Value      string    `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// PhotoRef points at a stored photo proof in an outbound count line.
type PhotoRef struct {
	ID         uuid.UUID `json:"id"`
	Kind       PhotoKind `json:"kind"`
	ObjectKey  string    `json:"object_key"`
	CapturedAt time.Time `json:"captured_at"`
}

// PriceUpdate is attached to a count line only when the chosen price deviates
// from the catalog price beyond tolerance.
type PriceUpdate struct {
	Value     decimal.Decimal `json:"value"`
	VariantID string          `json:"variant_id,omitempty"`
	Barcode   string          `json:"barcode,omitempty"`
	Source    string          `json:"source"`
}

// CountLinePayload is the fully validated outbound submission record built by
// the submission gate.
type CountLinePayload struct {
	SessionID              string          `json:"session_id"`
	ItemCode               string          `json:"item_code"`
	StockQty               int             `json:"stock_qty"`
	CountedQty             int             `json:"counted_qty"`
	ReturnableDamageQty    int             `json:"returnable_damage_qty"`
	NonReturnableDamageQty int             `json:"non_returnable_damage_qty"`
	ReasonCode             string          `json:"reason_code,omitempty"`
	Note                   string          `json:"note,omitempty"`
	Remark                 string          `json:"remark,omitempty"`
	ConditionTag           string          `json:"condition_tag,omitempty"`
	Serials                []SerialEntry   `json:"serials,omitempty"`
	Photos                 []PhotoRef      `json:"photos,omitempty"`
	Location               Location        `json:"location"`
	PriceUpdate            *PriceUpdate    `json:"price_update,omitempty"`
	ExpectedSerialCount    int             `json:"expected_serial_count"`
	SerialPhotoSupported   bool            `json:"serial_photo_supported"`
	CountedBy              string          `json:"counted_by"`
	CountedAt              time.Time       `json:"counted_at"`
}

// CountLine is a submitted count line as acknowledged by the backend.
type CountLine struct {
	ID         uuid.UUID `json:"id"`
	SessionID  string    `json:"session_id"`
	ItemCode   string    `json:"item_code"`
	CountedQty int       `json:"counted_qty"`
	CreatedAt  time.Time `json:"created_at"`
}

// VerificationDetails accompany the best-effort mark-verified side call.
type VerificationDetails struct {
	SessionID  string    `json:"session_id"`
	LineID     uuid.UUID `json:"line_id"`
	CountedBy  string    `json:"counted_by"`
	VerifiedAt time.Time `json:"verified_at"`
}
