// internal/core/services/scanguard_test.go
package services

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) (*ScanGuard, *time.Time) {
	t.Helper()
	g := NewScanGuard(15*time.Second, 1500*time.Millisecond, 5,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	current := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return current }
	return g, &current
}

func TestScanGuard_Debounced(t *testing.T) {
	g, clock := newTestGuard(t)

	assert.False(t, g.Debounced("BC-100"), "first scan never debounced")

	*clock = clock.Add(500 * time.Millisecond)
	assert.True(t, g.Debounced("BC-100"), "repeat within window suppressed")

	*clock = clock.Add(500 * time.Millisecond)
	assert.False(t, g.Debounced("BC-200"), "different code passes")

	*clock = clock.Add(2 * time.Second)
	assert.False(t, g.Debounced("BC-200"), "repeat after window passes")
}

func TestScanGuard_DebounceRefreshesOnSuppressedScan(t *testing.T) {
	g, clock := newTestGuard(t)

	require.False(t, g.Debounced("BC-100"))
	// A camera re-firing every second stays suppressed indefinitely.
	for i := 0; i < 5; i++ {
		*clock = clock.Add(time.Second)
		assert.True(t, g.Debounced("BC-100"))
	}
}

func TestScanGuard_Register(t *testing.T) {
	g, clock := newTestGuard(t)

	for i := 0; i < 5; i++ {
		assert.False(t, g.Register("BC-100"), "scan %d within limit", i+1)
		*clock = clock.Add(time.Second)
	}
	assert.True(t, g.Register("BC-100"), "sixth scan in window exceeds limit")
}

func TestScanGuard_RegisterTracksCodesIndependently(t *testing.T) {
	g, clock := newTestGuard(t)

	// Walking a rack scans a different item every couple of seconds. None of
	// them repeats, so none of them may trip the limit.
	codes := []string{"BC-100", "BC-200", "BC-300", "BC-400", "BC-500", "BC-600"}
	for _, code := range codes {
		assert.False(t, g.Register(code), "single scan of %s within limit", code)
		*clock = clock.Add(2 * time.Second)
	}

	// A genuine rapid-fire burst of one code still trips it.
	for i := 0; i < 5; i++ {
		require.False(t, g.Register("BC-700"))
	}
	assert.True(t, g.Register("BC-700"))

	// And the burst on one code leaves the others untouched.
	assert.False(t, g.Register("BC-100"))
}

func TestScanGuard_RegisterWindowSlides(t *testing.T) {
	g, clock := newTestGuard(t)

	for i := 0; i < 5; i++ {
		require.False(t, g.Register("BC-100"))
		*clock = clock.Add(time.Second)
	}

	// 11 seconds later the first scans have aged out.
	*clock = clock.Add(11 * time.Second)
	assert.False(t, g.Register("BC-100"))
}

func TestScanGuard_Reset(t *testing.T) {
	g, clock := newTestGuard(t)

	for i := 0; i < 6; i++ {
		g.Register("BC-100")
	}
	require.True(t, g.Register("BC-100"))
	require.False(t, g.Debounced("BC-100"))

	g.Reset()

	assert.False(t, g.Register("BC-100"), "window cleared")
	*clock = clock.Add(100 * time.Millisecond)
	assert.False(t, g.Debounced("BC-100"), "debounce state cleared")
}
