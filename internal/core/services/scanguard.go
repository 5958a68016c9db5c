// internal/core/services/scanguard.go
package services

import (
	"log/slog"
	"sync"
	"time"
)

// ScanGuard throttles barcode input from hardware scanners and camera feeds.
// It tracks a sliding window of recent scans per session and suppresses
// rapid-fire duplicates of the same code.
type ScanGuard struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int
	debounce time.Duration

	history  map[string][]time.Time
	lastCode string
	lastAt   time.Time

	now    func() time.Time
	logger *slog.Logger
}

// NewScanGuard builds a guard allowing at most limit scans per window, with
// identical consecutive scans inside debounce dropped silently.
func NewScanGuard(window, debounce time.Duration, limit int, logger *slog.Logger) *ScanGuard {
	return &ScanGuard{
		window:   window,
		limit:    limit,
		debounce: debounce,
		history:  make(map[string][]time.Time),
		now:      time.Now,
		logger:   logger.With(slog.String("service", "scan_guard")),
	}
}

// Debounced reports whether the scan is an immediate repeat of the previous
// code and should be dropped without any user feedback. Every observed scan,
// suppressed or not, refreshes the repeat window so a camera re-firing on the
// same frame stays quiet.
func (g *ScanGuard) Debounced(code string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	at := g.now()
	repeat := code == g.lastCode && at.Sub(g.lastAt) < g.debounce
	g.lastCode = code
	g.lastAt = at
	return repeat
}

// Register records a scan of code in its sliding window and reports whether
// the per-code frequency limit is now exceeded. The scan that crosses the
// limit is counted but rejected, so the caller should pause continuous
// scanning. Windows are tracked per raw code; alternating between distinct
// items never trips the limit.
func (g *ScanGuard) Register(code string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	at := g.now()
	cutoff := at.Add(-g.window)

	retained := g.history[code][:0]
	for _, t := range g.history[code] {
		if t.After(cutoff) {
			retained = append(retained, t)
		}
	}
	g.history[code] = append(retained, at)

	// Piggyback pruning of codes whose whole window has aged out, so the map
	// does not grow with every distinct barcode the session ever saw.
	for other, ts := range g.history {
		if other != code && !ts[len(ts)-1].After(cutoff) {
			delete(g.history, other)
		}
	}

	if len(g.history[code]) > g.limit {
		g.logger.Warn("scan frequency limit exceeded",
			slog.String("code", code),
			slog.Int("scans_in_window", len(g.history[code])),
			slog.Int("limit", g.limit))
		return true
	}
	return false
}

// Reset clears the sliding windows and the debounce state. Called when the
// operator acknowledges the cool-down notice.
func (g *ScanGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.history = make(map[string][]time.Time)
	g.lastCode = ""
	g.lastAt = time.Time{}
}
