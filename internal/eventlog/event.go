package eventlog

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind classifies events on a session's log. The values are the wire-level
// "type" strings consumed by all clients.
type Kind string

const (
	KindNewAnswer         Kind = "new_answer"
	KindHistoricalAnswer  Kind = "historical_answer"
	KindParticipantJoined Kind = "participant_joined"
	KindParticipantLeft   Kind = "participant_left"
	KindSessionEnded      Kind = "session_ended"
	KindKeepalive         Kind = "keepalive"
	KindBuildStatus       Kind = "build_status"
)

var validKinds = map[Kind]bool{
	KindNewAnswer:         true,
	KindHistoricalAnswer:  true,
	KindParticipantJoined: true,
	KindParticipantLeft:   true,
	KindSessionEnded:      true,
	KindKeepalive:         true,
	KindBuildStatus:       true,
}

func (k Kind) Valid() bool {
	return validKinds[k]
}

// Event is one immutable, offset-ordered fact on a session's log.
// Keepalives are the only events that exist on the wire but never in the log;
// they carry the offset the next logged event will receive so an idle client
// can reconnect with it as ?since= directly.
type Event struct {
	SessionID string    `json:"-"`
	Kind      Kind      `json:"type"`
	Offset    int64     `json:"offset"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"data"`
}

// AnswerPayload is the payload of new_answer and historical_answer events.
// The two kinds share this shape deliberately; whether a replayed answer
// triggers a client-side notification is a presentation decision.
type AnswerPayload struct {
	Question          string    `json:"question"`
	Answer            string    `json:"answer"`
	UserLevel         string    `json:"user_level"`
	MemoryContextUsed bool      `json:"memory_context_used"`
	Timestamp         time.Time `json:"timestamp"`
}

// PresencePayload is the payload of participant_joined and participant_left.
// Participants is the full set after the change so clients never need to
// fold the history themselves.
type PresencePayload struct {
	Participant  string   `json:"participant"`
	Participants []string `json:"participants"`
}

type SessionEndedPayload struct {
	Reason string `json:"reason,omitempty"`
}

type KeepalivePayload struct{}

// BuildStatusPayload is relayed opaquely to IDE-plugin clients.
type BuildStatusPayload struct {
	Status string `json:"status"`
	Target string `json:"target,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// DecodePayload re-inflates an event payload that arrived as generic JSON
// (e.g. on a client or in tests) into its kind-specific struct.
func DecodePayload(kind Kind, data []byte) (any, error) {
	switch kind {
	case KindNewAnswer, KindHistoricalAnswer:
		var p AnswerPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindParticipantJoined, KindParticipantLeft:
		var p PresencePayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindSessionEnded:
		var p SessionEndedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindKeepalive:
		return KeepalivePayload{}, nil
	case KindBuildStatus:
		var p BuildStatusPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}
