// internal/core/services/serials.go
package services

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/stocklens/countd/internal/core/domain"
)

// SerialSlotManager owns the serial-number slot list for one draft. Slots are
// created and destroyed only here so the count invariants cannot be bypassed.
// The manager is not safe for concurrent use; the workflow serializes access.
type SerialSlotManager struct {
	policy  domain.SerialPolicy
	enabled bool
	slots   []domain.SerialSlot
	// parked holds the previous slot values while optional capture is toggled
	// off, so re-enabling restores them.
	parked []domain.SerialSlot
	// target is the slot count the current quantity calls for. The floor is
	// one visible slot whenever capture is enabled.
	target int
	active uuid.UUID

	logger *slog.Logger
}

// NewSerialSlotManager builds a manager for the item's serial policy. A
// mandatory policy starts enabled with one empty slot.
func NewSerialSlotManager(policy domain.SerialPolicy, logger *slog.Logger) *SerialSlotManager {
	m := &SerialSlotManager{
		policy: policy,
		logger: logger.With(slog.String("service", "serial_slots")),
	}
	if policy.Mandatory() {
		m.enabled = true
		m.resize()
	}
	return m
}

func (m *SerialSlotManager) Enabled() bool { return m.enabled }

// Policy returns the item's serial policy.
func (m *SerialSlotManager) Policy() domain.SerialPolicy { return m.policy }

// SetEnabled toggles serial capture for an optional policy. Mandatory
// policies cannot be disabled and non-serial items cannot be enabled.
// Disabling parks the current slots; re-enabling restores them.
func (m *SerialSlotManager) SetEnabled(on bool) error {
	if on == m.enabled {
		return nil
	}
	if !on && m.policy.Mandatory() {
		return fmt.Errorf("serial capture is mandatory for policy %s: %w", m.policy, domain.ErrValidation)
	}
	if on && m.policy == domain.SerialNone {
		return fmt.Errorf("item does not carry serials: %w", domain.ErrValidation)
	}

	if !on {
		m.parked = m.slots
		m.slots = nil
		m.active = uuid.Nil
		m.enabled = false
		return nil
	}

	m.enabled = true
	if len(m.parked) > 0 {
		m.slots = m.parked
		m.parked = nil
	}
	m.resize()
	return nil
}

// SetRequiredCount aligns the slot list with the expected serial count for
// the current quantity. Growing appends empty slots; shrinking removes empty
// trailing slots only, so captured values are never discarded silently.
func (m *SerialSlotManager) SetRequiredCount(expected int) {
	m.target = expected
	if m.enabled {
		m.resize()
	}
}

// AddSlot appends one empty slot beyond the current list.
func (m *SerialSlotManager) AddSlot() (domain.SerialSlot, error) {
	if !m.enabled {
		return domain.SerialSlot{}, fmt.Errorf("serial capture disabled: %w", domain.ErrValidation)
	}
	s := domain.SerialSlot{ID: uuid.New()}
	m.slots = append(m.slots, s)
	m.relabel()
	return m.slots[len(m.slots)-1], nil
}

// RemoveSlot deletes a slot unless the list would drop below the count the
// current target still needs.
func (m *SerialSlotManager) RemoveSlot(id uuid.UUID) error {
	idx := m.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("serial slot %s: %w", id, domain.ErrNotFound)
	}
	if len(m.slots)-1 < m.floor() {
		return fmt.Errorf("cannot remove slot below required count %d: %w", m.floor(), domain.ErrMinimumRequired)
	}
	if m.active == id {
		m.active = uuid.Nil
	}
	m.slots = append(m.slots[:idx], m.slots[idx+1:]...)
	m.relabel()
	return nil
}

// SetValue writes a normalized serial into a slot. A value already present in
// another slot is rejected and the slot keeps its previous content. An empty
// value clears the slot.
func (m *SerialSlotManager) SetValue(id uuid.UUID, raw string) error {
	idx := m.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("serial slot %s: %w", id, domain.ErrNotFound)
	}
	value := domain.NormalizeSerial(raw)
	if value != "" {
		for i, s := range m.slots {
			if i != idx && s.Value == value {
				return fmt.Errorf("serial %q already recorded in %s: %w", value, s.OrdinalLabel, domain.ErrDuplicateValue)
			}
		}
	}
	m.slots[idx].Value = value
	return nil
}

// SetScanTarget marks the slot that receives the next scanned serial.
func (m *SerialSlotManager) SetScanTarget(id uuid.UUID) error {
	if id == uuid.Nil {
		m.active = uuid.Nil
		return nil
	}
	if m.indexOf(id) < 0 {
		return fmt.Errorf("serial slot %s: %w", id, domain.ErrNotFound)
	}
	m.active = id
	return nil
}

// ActiveTarget returns the slot currently receiving scans, or uuid.Nil.
func (m *SerialSlotManager) ActiveTarget() uuid.UUID { return m.active }

// RouteScan writes a scanned value into the active target slot, then advances
// the target to the next empty slot, wrapping around once. Returns the slot
// that received the value, or uuid.Nil when no target was active.
func (m *SerialSlotManager) RouteScan(raw string) (uuid.UUID, error) {
	if m.active == uuid.Nil {
		return uuid.Nil, nil
	}
	target := m.active
	if err := m.SetValue(target, raw); err != nil {
		return uuid.Nil, err
	}
	m.advanceFrom(target)
	return target, nil
}

// Slots returns a copy of the current slot list.
func (m *SerialSlotManager) Slots() []domain.SerialSlot {
	out := make([]domain.SerialSlot, len(m.slots))
	copy(out, m.slots)
	return out
}

func (m *SerialSlotManager) advanceFrom(id uuid.UUID) {
	idx := m.indexOf(id)
	for i := idx + 1; i < len(m.slots); i++ {
		if m.slots[i].Value == "" {
			m.active = m.slots[i].ID
			return
		}
	}
	for i := 0; i < idx; i++ {
		if m.slots[i].Value == "" {
			m.active = m.slots[i].ID
			return
		}
	}
	m.active = uuid.Nil
}

func (m *SerialSlotManager) floor() int {
	f := m.target
	if m.enabled && f < 1 {
		f = 1
	}
	return f
}

func (m *SerialSlotManager) resize() {
	want := m.floor()
	for len(m.slots) < want {
		m.slots = append(m.slots, domain.SerialSlot{ID: uuid.New()})
	}
	for len(m.slots) > want && m.slots[len(m.slots)-1].Value == "" {
		last := m.slots[len(m.slots)-1]
		if m.active == last.ID {
			m.active = uuid.Nil
		}
		m.slots = m.slots[:len(m.slots)-1]
	}
	m.relabel()
}

func (m *SerialSlotManager) relabel() {
	for i := range m.slots {
		m.slots[i].OrdinalLabel = fmt.Sprintf("Serial #%d", i+1)
	}
}

func (m *SerialSlotManager) indexOf(id uuid.UUID) int {
	for i, s := range m.slots {
		if s.ID == id {
			return i
		}
	}
	return -1
}
