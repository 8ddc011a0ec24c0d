package eventlog

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNoLog is returned for sessions the log has never opened or has already
// discarded past their retention grace period.
var ErrNoLog = errors.New("eventlog: no log for session")

// ErrSealed rejects appends after a session_ended event. Replay and live
// delivery both stop at session_ended, so anything appended after it could
// never be observed by any subscriber.
var ErrSealed = errors.New("eventlog: log sealed by session_ended")

// DefaultWatchBuffer is the per-watcher channel capacity. A watcher that
// falls this many events behind the appender is closed rather than allowed
// to slow anyone down.
const DefaultWatchBuffer = 256

// Log holds one append-only, offset-ordered event sequence per session.
//
// Appends to a single session are serialized; different sessions append
// independently. Reads observe only fully committed events. Offsets are
// contiguous integers starting at 0 and are assigned at append time.
type Log struct {
	mu       sync.RWMutex
	sessions map[string]*sessionLog

	watchBuffer int
	appended    atomic.Int64
}

type sessionLog struct {
	mu         sync.RWMutex
	events     []Event
	watchers   map[*watcher]struct{}
	lastAppend time.Time
	sealed     bool
}

type watcher struct {
	ch chan Event
}

func NewLog(watchBuffer int) *Log {
	if watchBuffer <= 0 {
		watchBuffer = DefaultWatchBuffer
	}
	return &Log{
		sessions:    make(map[string]*sessionLog),
		watchBuffer: watchBuffer,
	}
}

// Open creates an empty log for the session. Opening an already-open session
// is a no-op.
func (l *Log) Open(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.sessions[sessionID]; ok {
		return
	}
	l.sessions[sessionID] = &sessionLog{
		watchers:   make(map[*watcher]struct{}),
		lastAppend: time.Now(),
	}
}

func (l *Log) get(sessionID string) (*sessionLog, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sl, ok := l.sessions[sessionID]
	return sl, ok
}

// Append assigns the next offset for the session, commits the event, and
// hands it to every watcher. A watcher whose buffer is full is closed and
// forgotten; it never blocks the append or the other watchers.
//
// Appending session_ended seals the log; later appends fail with ErrSealed.
func (l *Log) Append(sessionID string, kind Kind, payload any) (Event, error) {
	sl, ok := l.get(sessionID)
	if !ok {
		return Event{}, ErrNoLog
	}

	sl.mu.Lock()
	if sl.sealed {
		sl.mu.Unlock()
		return Event{}, ErrSealed
	}
	ev := Event{
		SessionID: sessionID,
		Kind:      kind,
		Offset:    int64(len(sl.events)),
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	sl.events = append(sl.events, ev)
	sl.lastAppend = time.Now()
	if kind == KindSessionEnded {
		sl.sealed = true
	}
	for w := range sl.watchers {
		select {
		case w.ch <- ev:
		default:
			delete(sl.watchers, w)
			close(w.ch)
		}
	}
	sl.mu.Unlock()

	l.appended.Add(1)
	return ev, nil
}

// ReadFrom returns a copy of all committed events with offset >= from, in
// offset order. A from past the tail returns an empty slice.
func (l *Log) ReadFrom(sessionID string, from int64) ([]Event, error) {
	sl, ok := l.get(sessionID)
	if !ok {
		return nil, ErrNoLog
	}

	sl.mu.RLock()
	defer sl.mu.RUnlock()
	if from < 0 {
		from = 0
	}
	if from >= int64(len(sl.events)) {
		return []Event{}, nil
	}
	out := make([]Event, len(sl.events)-int(from))
	copy(out, sl.events[from:])
	return out, nil
}

// Watch atomically snapshots the events with offset >= from and registers a
// live channel for everything appended afterwards. There is no window between
// the two: an event is either in the returned replay slice or will arrive on
// the channel, never both, never neither.
//
// The channel is closed when the watcher overflows or the session log is
// discarded. cancel is idempotent.
func (l *Log) Watch(sessionID string, from int64) (replay []Event, ch <-chan Event, cancel func(), err error) {
	sl, ok := l.get(sessionID)
	if !ok {
		return nil, nil, nil, ErrNoLog
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()

	if from < 0 {
		from = 0
	}
	if from < int64(len(sl.events)) {
		replay = make([]Event, len(sl.events)-int(from))
		copy(replay, sl.events[from:])
	}

	w := &watcher{ch: make(chan Event, l.watchBuffer)}
	sl.watchers[w] = struct{}{}

	cancel = func() {
		sl.mu.Lock()
		if _, live := sl.watchers[w]; live {
			delete(sl.watchers, w)
			close(w.ch)
		}
		sl.mu.Unlock()
	}
	return replay, w.ch, cancel, nil
}

// Drop discards the session's whole log and closes every watcher. Called at
// session teardown after the retention grace period.
func (l *Log) Drop(sessionID string) {
	l.mu.Lock()
	sl, ok := l.sessions[sessionID]
	delete(l.sessions, sessionID)
	l.mu.Unlock()
	if !ok {
		return
	}

	sl.mu.Lock()
	for w := range sl.watchers {
		close(w.ch)
	}
	sl.watchers = make(map[*watcher]struct{})
	sl.events = nil
	sl.mu.Unlock()
}

// TailOffset returns the offset the next append will receive.
func (l *Log) TailOffset(sessionID string) (int64, error) {
	sl, ok := l.get(sessionID)
	if !ok {
		return 0, ErrNoLog
	}
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return int64(len(sl.events)), nil
}

// LastAppend reports when the session last saw an append (or was opened).
func (l *Log) LastAppend(sessionID string) (time.Time, bool) {
	sl, ok := l.get(sessionID)
	if !ok {
		return time.Time{}, false
	}
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.lastAppend, true
}

// TotalAppended returns the number of events appended across all sessions
// since the process started, including events since discarded.
func (l *Log) TotalAppended() int64 {
	return l.appended.Load()
}
