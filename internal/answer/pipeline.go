// Package answer is the producer boundary between caption ingestion and the
// event log. The answer generator itself (speech-to-text, LLM, summarizer)
// is an external collaborator behind the Generator interface; the pipeline
// only classifies captions, awaits generation, and appends the result.
package answer

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/answerhub/backend/internal/eventlog"
	"github.com/answerhub/backend/internal/session"
)

// ErrMalformed rejects a caption payload before it can reach the log.
var ErrMalformed = errors.New("answer: malformed caption")

// Generator produces an answer for a classified question. May be slow; it is
// always awaited off the append path so one session's generation never
// delays another session's appends.
type Generator interface {
	Generate(ctx context.Context, question string, meta session.Metadata) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, question string, meta session.Metadata) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, question string, meta session.Metadata) (string, error) {
	return f(ctx, question, meta)
}

// Classifier decides whether a caption chunk constitutes a question worth
// answering, returning the question text. Supplied externally; the default
// is a cheap heuristic.
type Classifier func(caption string) (question string, ok bool)

// DefaultClassifier treats a caption as a question when it ends in a
// question mark or opens with a common interrogative.
func DefaultClassifier(caption string) (string, bool) {
	c := strings.TrimSpace(caption)
	if c == "" {
		return "", false
	}
	if strings.HasSuffix(c, "?") {
		return c, true
	}
	lower := strings.ToLower(c)
	for _, w := range []string{"what ", "why ", "how ", "when ", "where ", "who ", "which ", "can you ", "could you ", "tell me "} {
		if strings.HasPrefix(lower, w) {
			return c, true
		}
	}
	return "", false
}

// Pipeline turns accepted captions into new_answer events.
type Pipeline struct {
	log      *eventlog.Log
	store    *session.Store
	gen      Generator
	classify Classifier
	timeout  time.Duration
}

func NewPipeline(l *eventlog.Log, store *session.Store, gen Generator, classify Classifier, timeout time.Duration) *Pipeline {
	if classify == nil {
		classify = DefaultClassifier
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pipeline{
		log:      l,
		store:    store,
		gen:      gen,
		classify: classify,
		timeout:  timeout,
	}
}

// HandleCaption validates and classifies a caption chunk. Captions that
// classify as questions kick off generation in the background; the resulting
// answer is appended as a new_answer event when it arrives. Returns whether
// generation was triggered.
func (p *Pipeline) HandleCaption(ctx context.Context, sessionID, caption string) (bool, error) {
	if strings.TrimSpace(caption) == "" {
		return false, ErrMalformed
	}
	sess, err := p.store.Get(sessionID)
	if err != nil {
		return false, err
	}
	if sess.IsEnded() {
		return false, session.ErrEnded
	}

	question, ok := p.classify(caption)
	if !ok {
		return false, nil
	}

	// Generation outlives the caption request, so detach from its
	// cancellation while keeping the values.
	go p.generate(context.WithoutCancel(ctx), sess, question)
	return true, nil
}

func (p *Pipeline) generate(ctx context.Context, sess *session.Session, question string) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	text, err := p.gen.Generate(ctx, question, sess.Metadata)
	if err != nil {
		log.Printf("answer generation for session %s failed: %v", sess.ID, err)
		return
	}

	_, err = p.log.Append(sess.ID, eventlog.KindNewAnswer, eventlog.AnswerPayload{
		Question:          question,
		Answer:            text,
		UserLevel:         sess.Metadata.UserLevel,
		MemoryContextUsed: false,
		Timestamp:         time.Now().UTC(),
	})
	if err != nil {
		// Session ended while we were generating: the log is sealed by
		// session_ended (or already discarded), so the answer is dropped
		// rather than appended where no subscriber could see it.
		log.Printf("append answer for session %s: %v", sess.ID, err)
	}
}

// SeedHistory appends answers carried in from a prior session's memory
// context as historical_answer events. Payload shape is identical to
// new_answer; only the kind differs.
func (p *Pipeline) SeedHistory(sessionID string, answers []eventlog.AnswerPayload) error {
	sess, err := p.store.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.IsEnded() {
		return session.ErrEnded
	}
	for _, a := range answers {
		a.MemoryContextUsed = true
		if a.Timestamp.IsZero() {
			a.Timestamp = time.Now().UTC()
		}
		if _, err := p.log.Append(sessionID, eventlog.KindHistoricalAnswer, a); err != nil {
			return err
		}
	}
	return nil
}

// Answers folds the session's log into the list of answers observed so far,
// in offset order. This is the snapshot-poll read: it is derived purely from
// replay, so it always agrees with what a stream subscriber eventually sees.
func (p *Pipeline) Answers(sessionID string) ([]eventlog.AnswerPayload, error) {
	events, err := p.log.ReadFrom(sessionID, 0)
	if err != nil {
		return nil, err
	}
	var out []eventlog.AnswerPayload
	for _, ev := range events {
		if ev.Kind != eventlog.KindNewAnswer && ev.Kind != eventlog.KindHistoricalAnswer {
			continue
		}
		if a, ok := ev.Payload.(eventlog.AnswerPayload); ok {
			out = append(out, a)
		}
	}
	return out, nil
}
