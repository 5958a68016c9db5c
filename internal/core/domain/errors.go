// internal/core/domain/errors.go
package domain

import "errors"

// Error taxonomy for the count-capture workflow. Components wrap these with
// fmt.Errorf("...: %w", ...) so callers can branch with errors.Is.
var (
	// ErrNotFound means no item matched the scanned or searched identifier.
	ErrNotFound = errors.New("item not found")

	// ErrAmbiguousInput means the identifier is malformed and was never sent
	// to the backend.
	ErrAmbiguousInput = errors.New("ambiguous identifier")

	// ErrValidation covers malformed quantity, price or serial input.
	ErrValidation = errors.New("invalid input")

	// ErrDuplicateValue is a serial value collision within one draft.
	ErrDuplicateValue = errors.New("duplicate serial value")

	// ErrMinimumRequired rejects removing a serial slot that the current
	// target still needs.
	ErrMinimumRequired = errors.New("minimum slot count required")

	// ErrRateLimited is the scan-frequency guard tripping.
	ErrRateLimited = errors.New("scan rate limit exceeded")

	// ErrNetwork means a backend collaborator was unreachable or timed out.
	ErrNetwork = errors.New("backend unreachable")

	// ErrConflict marks an item already counted in this session. Not a hard
	// failure: it opens the three-way duplicate decision.
	ErrConflict = errors.New("item already counted")
)
