package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go-attendance-agent/capture"
)

// DefaultSessionTTL is how long an untouched session survives before the
// cleanup loop reclaims it and releases its devices.
const DefaultSessionTTL = 5 * time.Minute

type sessionEntry struct {
	id      string
	purpose capture.Purpose
	subject string
	session *capture.Session

	touched time.Time
	running bool
}

// Registry tracks the live capture sessions owned by the control API.
// All access to the entry map and the per-entry running flag goes through
// the registry mutex; session progress itself is guarded by the session.
type Registry struct {
	mutex   sync.Mutex
	entries map[string]*sessionEntry
	ttl     time.Duration
}

func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Registry{
		entries: make(map[string]*sessionEntry),
		ttl:     ttl,
	}
}

func (r *Registry) Add(id string, purpose capture.Purpose, subject string, session *capture.Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.entries[id] = &sessionEntry{
		id:      id,
		purpose: purpose,
		subject: subject,
		session: session,
		touched: time.Now(),
	}
}

func (r *Registry) Get(id string) (*sessionEntry, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	entry, ok := r.entries[id]
	if ok {
		entry.touched = time.Now()
	}
	return entry, ok
}

// Remove detaches the session from the registry and returns it so the
// caller can release its devices. A running attempt keeps its entry.
func (r *Registry) Remove(id string) (*sessionEntry, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	entry, ok := r.entries[id]
	if !ok || entry.running {
		return nil, false
	}
	delete(r.entries, id)
	return entry, true
}

// StartAttempt marks the session as running an attempt. It reports false
// when an attempt is already in flight.
func (r *Registry) StartAttempt(id string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	entry, ok := r.entries[id]
	if !ok || entry.running {
		return false
	}
	entry.running = true
	entry.touched = time.Now()
	return true
}

func (r *Registry) FinishAttempt(id string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if entry, ok := r.entries[id]; ok {
		entry.running = false
		entry.touched = time.Now()
	}
}

func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.entries)
}

// RunCleanup reclaims idle sessions until the context is cancelled. A
// session is reclaimed once it has been untouched for the registry TTL
// and has no attempt in flight.
func (r *Registry) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, entry := range r.expire(time.Now()) {
				slog.Info("Reclaiming idle capture session",
					"session_id", entry.id, "subject", entry.subject,
					"state", entry.session.State().String())
				entry.session.Close()
			}
		}
	}
}

func (r *Registry) expire(now time.Time) []*sessionEntry {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	var expired []*sessionEntry
	for id, entry := range r.entries {
		if entry.running || now.Sub(entry.touched) < r.ttl {
			continue
		}
		delete(r.entries, id)
		expired = append(expired, entry)
	}
	return expired
}

// Shutdown releases every session. Called once the HTTP server has
// stopped accepting requests.
func (r *Registry) Shutdown() {
	r.mutex.Lock()
	entries := make([]*sessionEntry, 0, len(r.entries))
	for id, entry := range r.entries {
		entries = append(entries, entry)
		delete(r.entries, id)
	}
	r.mutex.Unlock()

	for _, entry := range entries {
		entry.session.Close()
	}
}
