// internal/core/services/registry.go
package services

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stocklens/countd/internal/core/domain"
)

// WorkflowFactory builds a workflow for a new session.
type WorkflowFactory func(session domain.Session) *Workflow

// SessionRegistry maps session IDs to live workflows. Idle sessions are
// evicted by Sweep, which the API process runs on a ticker.
type SessionRegistry struct {
	mu        sync.RWMutex
	factory   WorkflowFactory
	idleAfter time.Duration
	workflows map[string]*Workflow
	logger    *slog.Logger
}

func NewSessionRegistry(factory WorkflowFactory, idleAfter time.Duration, logger *slog.Logger) *SessionRegistry {
	return &SessionRegistry{
		factory:   factory,
		idleAfter: idleAfter,
		workflows: make(map[string]*Workflow),
		logger:    logger.With(slog.String("service", "session_registry")),
	}
}

// Open registers a session and returns its workflow. Re-opening an existing
// session returns the live workflow unchanged, so a reconnecting device
// resumes where it left off.
func (r *SessionRegistry) Open(session domain.Session) (*Workflow, error) {
	if session.ID == "" {
		return nil, fmt.Errorf("session id required: %w", domain.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if wf, ok := r.workflows[session.ID]; ok {
		return wf, nil
	}
	wf := r.factory(session)
	r.workflows[session.ID] = wf
	r.logger.Info("session opened",
		slog.String("session_id", session.ID),
		slog.String("warehouse", session.Location.Warehouse))
	return wf, nil
}

// Get returns the workflow for an open session.
func (r *SessionRegistry) Get(sessionID string) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.workflows[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q not open: %w", sessionID, domain.ErrNotFound)
	}
	return wf, nil
}

// Close removes a session from the registry.
func (r *SessionRegistry) Close(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workflows[sessionID]; ok {
		delete(r.workflows, sessionID)
		r.logger.Info("session closed", slog.String("session_id", sessionID))
	}
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workflows)
}

// Sweep evicts sessions idle longer than the configured threshold and
// returns how many were removed.
func (r *SessionRegistry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, wf := range r.workflows {
		if now.Sub(wf.IdleSince()) > r.idleAfter {
			delete(r.workflows, id)
			removed++
			r.logger.Info("idle session evicted", slog.String("session_id", id))
		}
	}
	return removed
}
