package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const createAttempts = 4

// Close reasons reported to OnClose hooks.
const (
	ReasonClientEnded  = "client-ended"
	ReasonDisconnected = "disconnected"
	ReasonReplaced     = "replaced"
	ReasonIdleTimeout  = "idle-timeout"
	ReasonShutdown     = "shutdown"
)

// Options configures a Registry.
type Options struct {
	Clock             Clock
	MaxUtteranceBytes int
	Logger            *slog.Logger
	// NewID overrides uuid generation, mainly for collision tests.
	NewID func() string
}

// Registry owns every live session keyed by id.
type Registry struct {
	clock             Clock
	maxUtteranceBytes int
	logger            *slog.Logger
	newID             func() string

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Registry{
		clock:             opts.Clock,
		maxUtteranceBytes: opts.MaxUtteranceBytes,
		logger:            opts.Logger,
		newID:             opts.NewID,
		sessions:          make(map[string]*Session),
	}
}

// Create registers a new Idle session owned by owner.
func (r *Registry) Create(owner string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < createAttempts; i++ {
		id := r.newID()
		if id == "" {
			continue
		}
		if _, exists := r.sessions[id]; exists {
			continue
		}
		s := newSession(id, owner, r.clock, r.maxUtteranceBytes)
		r.sessions[id] = s
		r.logger.Debug("session created", "session_id", id, "owner", owner)
		return s, nil
	}
	return nil, errors.New("session: could not allocate a unique id")
}

// Get returns the live session with id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// GetOwned returns the session only if owner created it. A mismatch is
// reported as not found so ids cannot be probed across connections.
func (r *Registry) GetOwned(id, owner string) (*Session, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if s.owner != owner {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Remove closes and forgets the session. Removing an unknown id is a no-op.
func (r *Registry) Remove(id, reason string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	closed := s.close(reason)
	if closed {
		r.logger.Debug("session removed", "session_id", id, "reason", reason)
	}
	return closed
}

// removeIfIdle removes id only if it still has no activity after cutoff when
// the registry lock is taken. A heartbeat that lands between the Reap scan
// and the removal keeps the session.
func (r *Registry) removeIfIdle(id string, cutoff time.Time) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok || s.LastActivity().After(cutoff) {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	closed := s.close(ReasonIdleTimeout)
	if closed {
		r.logger.Debug("session removed", "session_id", id, "reason", ReasonIdleTimeout)
	}
	return closed
}

// Touch records activity on id.
func (r *Registry) Touch(id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	s.Touch()
	return nil
}

// Len reports how many sessions are live.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a snapshot of all live sessions.
func (r *Registry) List() []Info {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// Reap removes sessions idle for at least idleTimeout and returns their ids.
func (r *Registry) Reap(idleTimeout time.Duration) []string {
	if idleTimeout <= 0 {
		return nil
	}
	cutoff := r.clock.Now().Add(-idleTimeout)

	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if !s.LastActivity().After(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	var reaped []string
	for _, id := range stale {
		if r.removeIfIdle(id, cutoff) {
			reaped = append(reaped, id)
		}
	}
	if len(reaped) > 0 {
		r.logger.Info("reaped idle sessions", "count", len(reaped))
	}
	return reaped
}

// RunReaper calls Reap every interval until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval, idleTimeout time.Duration) {
	if interval <= 0 || idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Reap(idleTimeout)
		}
	}
}

// CloseAll removes every session.
func (r *Registry) CloseAll(reason string) int {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	n := 0
	for _, s := range sessions {
		if s.close(reason) {
			n++
		}
	}
	return n
}
