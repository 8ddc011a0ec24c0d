package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"

	"github.com/answerhub/backend/internal/eventlog"
)

const (
	idPrefix   = "ses-"
	idAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	idLength   = 12
)

func newID() (string, error) {
	id, err := nanoid.Generate(idAlphabet, idLength)
	if err != nil {
		return "", fmt.Errorf("session id: %w", err)
	}
	return idPrefix + id, nil
}

// StreamActivity reports live subscriber counts per session. Implemented by
// the fan-out hub; the store uses it to decide when a session has gone idle.
type StreamActivity interface {
	SubscriberCount(sessionID string) int
}

// Store is the authoritative registry of session lifecycle state. It owns
// the transition to ended and the retention timer that discards the event
// log a grace period later.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	dropped  map[string]*time.Timer

	log      *eventlog.Log
	grace    time.Duration
	activity StreamActivity
}

func NewStore(l *eventlog.Log, grace time.Duration) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		dropped:  make(map[string]*time.Timer),
		log:      l,
		grace:    grace,
	}
}

// SetStreamActivity wires in the hub. Must be called before RunGC.
func (s *Store) SetStreamActivity(a StreamActivity) {
	s.activity = a
}

// Create allocates a session in state active and opens its event log.
func (s *Store) Create(meta Metadata) (*Session, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        id,
		State:     Active,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.log.Open(id)
	return sess.Clone(), nil
}

func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) GetAll() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	return out
}

func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if !sess.IsEnded() {
			n++
		}
	}
	return n
}

// End transitions the session to ended, appends exactly one session_ended
// event, and schedules the log drop after the retention grace period.
// Ending an already-ended or unknown session is a no-op.
func (s *Store) End(id, reason string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok || sess.IsEnded() {
		s.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	sess.State = Ended
	sess.EndedAt = &now

	// Armed under the lock so End racing End schedules exactly one drop.
	s.dropped[id] = time.AfterFunc(s.grace, func() { s.discard(id) })
	s.mu.Unlock()

	if _, err := s.log.Append(id, eventlog.KindSessionEnded, eventlog.SessionEndedPayload{Reason: reason}); err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	return nil
}

// discard removes all trace of an ended session once its grace period is up.
// Dropping the log closes any straggling watchers.
func (s *Store) discard(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	delete(s.dropped, id)
	s.mu.Unlock()
	s.log.Drop(id)
}

// Close cancels pending retention timers. For shutdown paths and tests.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.dropped {
		t.Stop()
		delete(s.dropped, id)
	}
}

// RunGC ends sessions that have had no appended events and no subscribers
// for at least idle. Bounds memory; correctness never depends on it.
func (s *Store) RunGC(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.collectIdle(idle)
		}
	}
}

func (s *Store) collectIdle(idle time.Duration) {
	cutoff := time.Now().Add(-idle)

	s.mu.RLock()
	var candidates []string
	for id, sess := range s.sessions {
		if sess.IsEnded() {
			continue
		}
		if sess.CreatedAt.After(cutoff) {
			continue
		}
		candidates = append(candidates, id)
	}
	s.mu.RUnlock()

	for _, id := range candidates {
		if s.activity != nil && s.activity.SubscriberCount(id) > 0 {
			continue
		}
		if last, ok := s.log.LastAppend(id); ok && last.After(cutoff) {
			continue
		}
		log.Printf("session %s idle for %s, ending", id, idle)
		if err := s.End(id, "idle timeout"); err != nil {
			log.Printf("gc end session %s: %v", id, err)
		}
	}
}
