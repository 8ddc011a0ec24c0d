package ws

import (
	"github.com/answerhub/backend/internal/eventlog"
	"github.com/answerhub/backend/internal/session"
)

// Error codes surfaced to clients. session_not_found is terminal: the client
// must stop retrying that id. malformed_event and invalid_metadata are
// caller errors rejected before anything reaches the log.
const (
	codeSessionNotFound = "session_not_found"
	codeMalformedEvent  = "malformed_event"
	codeInvalidMetadata = "invalid_metadata"
)

type errorResponse struct {
	Error string `json:"error"`
}

type createSessionRequest struct {
	session.Metadata
	// History seeds the new session with answers from a prior session's
	// memory context; they replay to every subscriber as historical_answer.
	History []eventlog.AnswerPayload `json:"history,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type captionRequest struct {
	Text string `json:"text"`
}

type captionResponse struct {
	// Queued is true when the caption classified as a question and answer
	// generation was started.
	Queued bool `json:"queued"`
}

type answersResponse struct {
	Answers []eventlog.AnswerPayload `json:"answers"`
}

type participantRequest struct {
	ParticipantID string `json:"participantId"`
}

type participantsResponse struct {
	Participants []string `json:"participants"`
}

type buildStatusRequest struct {
	Status string `json:"status"`
	Target string `json:"target,omitempty"`
	Detail string `json:"detail,omitempty"`
}
