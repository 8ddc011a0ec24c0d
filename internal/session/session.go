package session

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrEnded           = errors.New("session already ended")
	ErrInvalidMetadata = errors.New("invalid session metadata")
)

// State is a session's lifecycle state. Sessions move created -> active at
// creation time and reach ended exactly once; an ended session is immutable.
type State int

const (
	Created State = iota
	Active
	Ended
)

var stateNames = map[State]string{
	Created: "created",
	Active:  "active",
	Ended:   "ended",
}

var stateFromName = map[string]State{
	"created": Created,
	"active":  Active,
	"ended":   Ended,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var n string
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if v, ok := stateFromName[n]; ok {
		*s = v
	}
	return nil
}

// Metadata is the caller-declared description of a session. UserLevel and
// MeetingType are required; DisplayName is free-form.
type Metadata struct {
	UserLevel   string `json:"userLevel"`
	MeetingType string `json:"meetingType"`
	DisplayName string `json:"displayName,omitempty"`
}

func (m Metadata) Validate() error {
	if strings.TrimSpace(m.UserLevel) == "" {
		return ErrInvalidMetadata
	}
	if strings.TrimSpace(m.MeetingType) == "" {
		return ErrInvalidMetadata
	}
	return nil
}

// Session is one meeting-scoped conversation context.
type Session struct {
	ID        string     `json:"id"`
	State     State      `json:"state"`
	Metadata  Metadata   `json:"metadata"`
	CreatedAt time.Time  `json:"createdAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
}

func (s *Session) IsEnded() bool {
	return s.State == Ended
}

// Clone returns a deep copy so callers can hold a snapshot without racing
// the store.
func (s *Session) Clone() *Session {
	c := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}
