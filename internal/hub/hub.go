// Package hub bridges the event log to live push-transport subscribers with
// replay-then-live semantics. It is transport-agnostic: the HTTP layer owns
// the websocket/SSE write side and consumes each subscriber's channel.
package hub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/answerhub/backend/internal/eventlog"
)

// ErrSlowConsumer is reported by a subscriber whose feed was closed because
// it fell behind the log (or the log was discarded). The client recovers by
// reconnecting with ?since= the next offset it needs.
var ErrSlowConsumer = errors.New("hub: subscriber fell behind")

// DefaultKeepalive is the idle interval after which a live subscriber gets a
// synthetic keepalive event.
const DefaultKeepalive = 25 * time.Second

// DefaultOutBuffer is the per-subscriber delivery buffer. A transport that
// cannot drain this many events is disconnected rather than allowed to slow
// delivery to anyone else.
const DefaultOutBuffer = 64

type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscriber]struct{}

	log       *eventlog.Log
	keepalive time.Duration
	outBuffer int
}

func New(l *eventlog.Log, keepalive time.Duration, outBuffer int) *Hub {
	if keepalive <= 0 {
		keepalive = DefaultKeepalive
	}
	if outBuffer <= 0 {
		outBuffer = DefaultOutBuffer
	}
	return &Hub{
		subs:      make(map[string]map[*Subscriber]struct{}),
		log:       l,
		keepalive: keepalive,
		outBuffer: outBuffer,
	}
}

// Subscribe opens a feed for the session starting at offset since. The
// returned subscriber first receives every already-committed event with
// offset >= since, then all later appends, in strict offset order with no
// gaps and no duplicates. Events appended while the replay drains are
// buffered by the log watcher, never dropped.
//
// Returns eventlog.ErrNoLog when the session is unknown or already past its
// retention grace period; that is terminal for the client.
func (h *Hub) Subscribe(sessionID string, since int64) (*Subscriber, error) {
	replay, ch, cancel, err := h.log.Watch(sessionID, since)
	if err != nil {
		return nil, err
	}

	s := &Subscriber{
		hub:       h,
		sessionID: sessionID,
		state:     StateConnecting,
		out:       make(chan eventlog.Event, h.outBuffer),
		done:      make(chan struct{}),
		cancel:    cancel,
	}

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[sessionID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	go s.run(replay, ch)
	return s, nil
}

func (h *Hub) remove(s *Subscriber) {
	h.mu.Lock()
	if set, ok := h.subs[s.sessionID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.sessionID)
		}
	}
	h.mu.Unlock()
}

// SubscriberCount reports the live subscribers for one session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// TotalSubscribers reports live subscribers across all sessions.
func (h *Hub) TotalSubscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Close tears down every subscriber. Shutdown only.
func (h *Hub) Close() {
	h.mu.Lock()
	var all []*Subscriber
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}

// State is a subscriber's position in the connecting -> replaying -> live ->
// closed lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateReplaying
	StateLive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReplaying:
		return "replaying"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Subscriber is one ephemeral stream connection. Events() yields events in
// offset order; the channel is closed when the subscriber leaves the hub,
// after which Err() explains why (nil for a normal end-of-session or
// client-initiated close).
type Subscriber struct {
	hub       *Hub
	sessionID string
	out       chan eventlog.Event
	done      chan struct{}
	cancel    func()
	closeOnce sync.Once

	mu    sync.Mutex
	state State
	err   error
}

func (s *Subscriber) Events() <-chan eventlog.Event { return s.out }

func (s *Subscriber) SessionID() string { return s.sessionID }

func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err reports why the subscriber closed. Only meaningful after Events() is
// closed.
func (s *Subscriber) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close detaches the subscriber. Safe to call from any goroutine, any number
// of times; used by the transport on client disconnect.
func (s *Subscriber) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Subscriber) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// run drains the replay snapshot, then tails the live watcher channel,
// interleaving synthetic keepalives when the feed is idle. It is the sole
// sender on s.out and closes it on exit.
func (s *Subscriber) run(replay []eventlog.Event, ch <-chan eventlog.Event) {
	var finalErr error
	defer func() {
		if errors.Is(finalErr, errClientClosed) {
			finalErr = nil
		}
		s.cancel()
		s.hub.remove(s)
		s.mu.Lock()
		s.state = StateClosed
		s.err = finalErr
		s.mu.Unlock()
		close(s.out)
	}()

	s.setState(StateReplaying)

	next := int64(-1)
	for _, ev := range replay {
		s.checkOffset(&next, ev)
		if err := s.deliver(ev); err != nil {
			finalErr = err
			return
		}
		if ev.Kind == eventlog.KindSessionEnded {
			return
		}
	}

	s.setState(StateLive)

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-ch:
			if !ok {
				// Watcher closed beneath us: we overflowed the log-side
				// buffer or the session log was discarded.
				finalErr = ErrSlowConsumer
				return
			}
			s.checkOffset(&next, ev)
			if err := s.deliver(ev); err != nil {
				finalErr = err
				return
			}
			if ev.Kind == eventlog.KindSessionEnded {
				return
			}
		case <-time.After(s.hub.keepalive):
			tail, err := s.hub.log.TailOffset(s.sessionID)
			if err != nil {
				// Log discarded mid-stream; same terminal close as the
				// dropped-watcher path so the client knows to resubscribe.
				finalErr = ErrSlowConsumer
				return
			}
			ka := eventlog.Event{
				SessionID: s.sessionID,
				Kind:      eventlog.KindKeepalive,
				Offset:    tail,
				Timestamp: time.Now().UTC(),
				Payload:   eventlog.KeepalivePayload{},
			}
			if err := s.deliver(ka); err != nil {
				finalErr = err
				return
			}
		}
	}
}

// checkOffset enforces the contiguity guarantee. A gap or duplicate here is
// a programming error that would silently corrupt every client, so it fails
// loudly.
func (s *Subscriber) checkOffset(next *int64, ev eventlog.Event) {
	if *next >= 0 && ev.Offset != *next {
		panic(fmt.Sprintf("hub: offset gap for session %s: expected %d, got %d", s.sessionID, *next, ev.Offset))
	}
	*next = ev.Offset + 1
}

// errClientClosed distinguishes a client-initiated close from a stalled
// transport; it is never surfaced through Err().
var errClientClosed = errors.New("hub: subscriber closed")

// deliver hands the event to the transport with a bounded wait. The bound is
// per subscriber, so one stalled transport never delays another.
func (s *Subscriber) deliver(ev eventlog.Event) error {
	select {
	case s.out <- ev:
		return nil
	case <-s.done:
		return errClientClosed
	default:
	}
	// Buffer full: give the transport one keepalive interval to drain
	// before declaring it dead.
	t := time.NewTimer(s.hub.keepalive)
	defer t.Stop()
	select {
	case s.out <- ev:
		return nil
	case <-s.done:
		return errClientClosed
	case <-t.C:
		return ErrSlowConsumer
	}
}
