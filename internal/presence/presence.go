// Package presence derives the live participant set of a session by folding
// participant_joined/participant_left events out of the event log. It keeps
// no state of its own, so what it reports is always exactly what a stream
// subscriber reconstructs from replay.
package presence

import (
	"sort"
	"sync"

	"github.com/answerhub/backend/internal/eventlog"
)

type Tracker struct {
	// One lock across sessions: a join/leave is a read-fold plus at most one
	// append, and logs are short. Serializing the read-modify-append is what
	// makes Join idempotent under concurrency.
	mu  sync.Mutex
	log *eventlog.Log
}

func NewTracker(l *eventlog.Log) *Tracker {
	return &Tracker{log: l}
}

// Join appends a participant_joined event unless the participant is already
// a member. Joining twice is a no-op.
func (t *Tracker) Join(sessionID, participantID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, err := t.fold(sessionID)
	if err != nil {
		return err
	}
	if set[participantID] {
		return nil
	}
	set[participantID] = true

	_, err = t.log.Append(sessionID, eventlog.KindParticipantJoined, eventlog.PresencePayload{
		Participant:  participantID,
		Participants: sorted(set),
	})
	return err
}

// Leave appends a participant_left event. Leaving a non-member is a no-op.
func (t *Tracker) Leave(sessionID, participantID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, err := t.fold(sessionID)
	if err != nil {
		return err
	}
	if !set[participantID] {
		return nil
	}
	delete(set, participantID)

	_, err = t.log.Append(sessionID, eventlog.KindParticipantLeft, eventlog.PresencePayload{
		Participant:  participantID,
		Participants: sorted(set),
	})
	return err
}

// Current returns the participant ids currently in the session, sorted.
func (t *Tracker) Current(sessionID string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, err := t.fold(sessionID)
	if err != nil {
		return nil, err
	}
	return sorted(set), nil
}

func (t *Tracker) fold(sessionID string) (map[string]bool, error) {
	events, err := t.log.ReadFrom(sessionID, 0)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool)
	for _, ev := range events {
		p, ok := ev.Payload.(eventlog.PresencePayload)
		if !ok {
			continue
		}
		switch ev.Kind {
		case eventlog.KindParticipantJoined:
			set[p.Participant] = true
		case eventlog.KindParticipantLeft:
			delete(set, p.Participant)
		}
	}
	return set, nil
}

func sorted(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
