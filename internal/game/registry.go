package game

import (
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/escape-reception/internal/model"
)

// QueueEntry is a checked-in group waiting for the next batch start.
type QueueEntry struct {
	ID       uint64    `json:"id"`
	Token    string    `json:"-"`
	QueuedAt time.Time `json:"queued_at"`
}

// Registry holds the queue and the sessions known to this process.  It is
// a cache over persisted reservations: Reset and a restart both lose it, and
// Controller.Reconcile rebuilds the running part from the store.
type Registry struct {
	mu       sync.Mutex
	queue    []QueueEntry
	sessions map[uint64]*model.GameSession
	origin   *time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: map[uint64]*model.GameSession{}}
}

// Enqueue appends id to the queue.  A participant already waiting yields
// ErrAlreadyQueued; one with a running session yields ErrAlreadyRunning.
func (r *Registry) Enqueue(id uint64, tok string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok && s.Active() {
		return ErrAlreadyRunning
	}
	for _, e := range r.queue {
		if e.ID == id {
			return ErrAlreadyQueued
		}
	}
	r.queue = append(r.queue, QueueEntry{ID: id, Token: tok, QueuedAt: at})
	return nil
}

// Dequeue removes id from the queue if present.
func (r *Registry) Dequeue(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.queue {
		if e.ID == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return
		}
	}
}

// Queued returns the queue in insertion order.
func (r *Registry) Queued() []QueueEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]QueueEntry(nil), r.queue...)
}

// DrainQueue empties the queue and returns what it held, in order.
func (r *Registry) DrainQueue() []QueueEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queue
	r.queue = nil
	return q
}

// Admit records s as running.  If a running session for the participant
// already exists it is kept and returned instead.
func (r *Registry) Admit(s model.GameSession) model.GameSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.ParticipantID]; ok && cur.Active() {
		return *cur
	}
	s.Status = model.SessionRunning
	r.sessions[s.ParticipantID] = &s
	if r.origin == nil {
		o := s.StartedAt
		r.origin = &o
	}
	return s
}

// Finish records the stop of a participant's session.  Unknown participants
// are added as stopped so the staff view shows the result.
func (r *Registry) Finish(s model.GameSession) model.GameSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.Status = model.SessionStopped
	r.sessions[s.ParticipantID] = &s
	return s
}

// Forget drops a participant from both the queue and the sessions.
func (r *Registry) Forget(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	for i, e := range r.queue {
		if e.ID == id {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			break
		}
	}
}

// Session returns a copy of the participant's session.
func (r *Registry) Session(id uint64) (model.GameSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return model.GameSession{}, false
	}
	return *s, true
}

// Sessions returns every session ordered by start time, then id.
func (r *Registry) Sessions() []model.GameSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.GameSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out
}

// Running returns the ids of running sessions.
func (r *Registry) Running() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uint64
	for id, s := range r.sessions {
		if s.Active() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Origin is the shared display origin of the current wave, if any.
func (r *Registry) Origin() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.origin == nil {
		return nil
	}
	o := *r.origin
	return &o
}

// SetOrigin overrides the display origin.
func (r *Registry) SetOrigin(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.origin = &t
}

// ClaimOrigin sets the display origin to t unless one is already set, and
// returns the origin in effect.
func (r *Registry) ClaimOrigin(t time.Time) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.origin == nil {
		r.origin = &t
	}
	return *r.origin
}

// Reset clears the queue, all sessions and the display origin.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = nil
	r.sessions = map[uint64]*model.GameSession{}
	r.origin = nil
}
