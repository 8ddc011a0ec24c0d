// Package mock drives the real pipeline with scripted meeting activity for
// demos and manual client testing (-mock flag).
package mock

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/answerhub/backend/internal/answer"
	"github.com/answerhub/backend/internal/presence"
	"github.com/answerhub/backend/internal/session"
)

type scriptedSession struct {
	meta         session.Metadata
	participants []string
	captions     []string
}

var scripts = []scriptedSession{
	{
		meta:         session.Metadata{UserLevel: "senior", MeetingType: "interview", DisplayName: "Backend screen"},
		participants: []string{"interviewer", "candidate"},
		captions: []string{
			"Alright, let's get started with some fundamentals.",
			"What is a hash map?",
			"Okay, good. Moving on.",
			"How would you design a rate limiter?",
			"Can you walk me through a time you debugged a production incident?",
		},
	},
	{
		meta:         session.Metadata{UserLevel: "junior", MeetingType: "standup", DisplayName: "Team sync"},
		participants: []string{"p1", "p2", "p3"},
		captions: []string{
			"Yesterday I finished the migration script.",
			"What is blocking the release today?",
			"Why is the staging environment down?",
		},
	},
	{
		meta:         session.Metadata{UserLevel: "mid", MeetingType: "client_call", DisplayName: "Vendor review"},
		participants: []string{"host", "client"},
		captions: []string{
			"Thanks for joining on short notice.",
			"How does your retry policy handle partial failures?",
			"When can we expect the next milestone?",
		},
	},
}

// Generator is the canned answer source used in mock mode. It stands in for
// the external answer pipeline with plausible latency.
func Generator() answer.GeneratorFunc {
	return func(ctx context.Context, question string, meta session.Metadata) (string, error) {
		delay := time.Duration(300+rand.Intn(900)) * time.Millisecond
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		return fmt.Sprintf("(%s-level answer) A concise way to think about %q: start from the core idea, then layer in trade-offs as follow-ups come.", meta.UserLevel, question), nil
	}
}

type Runner struct {
	store    *session.Store
	pipeline *answer.Pipeline
	presence *presence.Tracker
}

func NewRunner(store *session.Store, pipeline *answer.Pipeline, tracker *presence.Tracker) *Runner {
	return &Runner{store: store, pipeline: pipeline, presence: tracker}
}

// Start creates the scripted sessions and feeds their captions through the
// real ingestion path on a timer until ctx is done.
func (r *Runner) Start(ctx context.Context) {
	for i := range scripts {
		go r.runScript(ctx, scripts[i])
	}
}

func (r *Runner) runScript(ctx context.Context, sc scriptedSession) {
	sess, err := r.store.Create(sc.meta)
	if err != nil {
		log.Printf("mock: create session: %v", err)
		return
	}
	log.Printf("mock: session %s (%s)", sess.ID, sc.meta.DisplayName)

	for _, p := range sc.participants {
		if err := r.presence.Join(sess.ID, p); err != nil {
			log.Printf("mock: join %s: %v", p, err)
		}
	}

	ticker := time.NewTicker(4 * time.Second)
	defer ticker.Stop()

	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			caption := sc.captions[i%len(sc.captions)]
			if _, err := r.pipeline.HandleCaption(ctx, sess.ID, caption); err != nil {
				log.Printf("mock: caption for %s: %v", sess.ID, err)
				return
			}
			i++
			// Churn presence a little so clients see joins and leaves.
			if i%5 == 0 && len(sc.participants) > 1 {
				p := sc.participants[len(sc.participants)-1]
				r.presence.Leave(sess.ID, p)
				r.presence.Join(sess.ID, p)
			}
		}
	}
}
