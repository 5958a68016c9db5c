// internal/core/services/serials_test.go
package services

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocklens/countd/internal/core/domain"
)

func newSlotManager(policy domain.SerialPolicy) *SerialSlotManager {
	return NewSerialSlotManager(policy, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSerialSlotManager_MandatoryPolicyStartsEnabled(t *testing.T) {
	m := newSlotManager(domain.SerialSingle)

	assert.True(t, m.Enabled())
	slots := m.Slots()
	require.Len(t, slots, 1, "one slot visible before any quantity")
	assert.Equal(t, "Serial #1", slots[0].OrdinalLabel)

	err := m.SetEnabled(false)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.True(t, m.Enabled())
}

func TestSerialSlotManager_NonePolicyCannotEnable(t *testing.T) {
	m := newSlotManager(domain.SerialNone)

	assert.False(t, m.Enabled())
	assert.ErrorIs(t, m.SetEnabled(true), domain.ErrValidation)
}

func TestSerialSlotManager_RequiredCountResize(t *testing.T) {
	m := newSlotManager(domain.SerialDual)

	m.SetRequiredCount(4) // dual policy, qty 2
	require.Len(t, m.Slots(), 4)
	for i, s := range m.Slots() {
		assert.Equal(t, fmt.Sprintf("Serial #%d", i+1), s.OrdinalLabel)
	}

	slots := m.Slots()
	require.NoError(t, m.SetValue(slots[0].ID, "sn-001"))
	require.NoError(t, m.SetValue(slots[1].ID, "sn-002"))

	// Shrinking drops empty trailing slots but never captured values.
	m.SetRequiredCount(1)
	slots = m.Slots()
	require.Len(t, slots, 2)
	assert.Equal(t, "SN-001", slots[0].Value)
	assert.Equal(t, "SN-002", slots[1].Value)

	// Growing again appends fresh empty slots after the kept ones.
	m.SetRequiredCount(3)
	slots = m.Slots()
	require.Len(t, slots, 3)
	assert.Equal(t, "SN-002", slots[1].Value)
	assert.Empty(t, slots[2].Value)
	assert.Equal(t, "Serial #3", slots[2].OrdinalLabel)
}

func TestSerialSlotManager_SetValue(t *testing.T) {
	m := newSlotManager(domain.SerialSingle)
	m.SetRequiredCount(2)
	slots := m.Slots()

	require.NoError(t, m.SetValue(slots[0].ID, "  abc-123  "))
	assert.Equal(t, "ABC-123", m.Slots()[0].Value, "stored normalized")

	err := m.SetValue(slots[1].ID, "abc-123")
	assert.ErrorIs(t, err, domain.ErrDuplicateValue)
	assert.Empty(t, m.Slots()[1].Value, "rejected write leaves slot untouched")

	// Re-writing the same slot with its own value is not a collision.
	require.NoError(t, m.SetValue(slots[0].ID, "ABC-123"))

	require.NoError(t, m.SetValue(slots[0].ID, ""))
	assert.Empty(t, m.Slots()[0].Value, "empty input clears")

	err = m.SetValue(uuid.New(), "X")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSerialSlotManager_AddRemoveSlots(t *testing.T) {
	m := newSlotManager(domain.SerialSingle)
	m.SetRequiredCount(2)

	extra, err := m.AddSlot()
	require.NoError(t, err)
	require.Len(t, m.Slots(), 3)
	assert.Equal(t, "Serial #3", extra.OrdinalLabel)

	// The extra slot can go; the required two cannot.
	require.NoError(t, m.RemoveSlot(extra.ID))
	err = m.RemoveSlot(m.Slots()[0].ID)
	assert.ErrorIs(t, err, domain.ErrMinimumRequired)
	require.Len(t, m.Slots(), 2)
}

func TestSerialSlotManager_RouteScan(t *testing.T) {
	m := newSlotManager(domain.SerialDual)
	m.SetRequiredCount(4)
	slots := m.Slots()

	got, err := m.RouteScan("ignored")
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, got, "no active target set")

	require.NoError(t, m.SetScanTarget(slots[2].ID))

	got, err = m.RouteScan("sn-3")
	require.NoError(t, err)
	assert.Equal(t, slots[2].ID, got)
	assert.Equal(t, slots[3].ID, m.ActiveTarget(), "advances to next empty")

	_, err = m.RouteScan("sn-4")
	require.NoError(t, err)
	assert.Equal(t, slots[0].ID, m.ActiveTarget(), "wraps to first empty")

	_, err = m.RouteScan("sn-1")
	require.NoError(t, err)
	_, err = m.RouteScan("sn-2")
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, m.ActiveTarget(), "all slots filled, target cleared")

	require.NoError(t, m.SetScanTarget(slots[0].ID))
	_, err = m.RouteScan("sn-3")
	assert.ErrorIs(t, err, domain.ErrDuplicateValue)
	assert.Equal(t, "SN-1", m.Slots()[0].Value, "duplicate scan leaves slot untouched")
}

func TestSerialSlotManager_OptionalToggleParksValues(t *testing.T) {
	m := newSlotManager(domain.SerialOptional)
	require.False(t, m.Enabled())
	assert.Empty(t, m.Slots())

	require.NoError(t, m.SetEnabled(true))
	m.SetRequiredCount(2)
	slots := m.Slots()
	require.Len(t, slots, 2)
	require.NoError(t, m.SetValue(slots[0].ID, "OPT-1"))

	require.NoError(t, m.SetEnabled(false))
	assert.Empty(t, m.Slots(), "disabled capture shows no slots")

	m.SetRequiredCount(0)
	require.NoError(t, m.SetEnabled(true))
	restored := m.Slots()
	require.NotEmpty(t, restored)
	assert.Equal(t, "OPT-1", restored[0].Value, "re-enable restores parked values")
}
