package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/answerhub/backend/internal/answer"
	"github.com/answerhub/backend/internal/config"
	"github.com/answerhub/backend/internal/eventlog"
	"github.com/answerhub/backend/internal/hub"
	"github.com/answerhub/backend/internal/mock"
	"github.com/answerhub/backend/internal/presence"
	"github.com/answerhub/backend/internal/session"
	"github.com/answerhub/backend/internal/stats"
	"github.com/answerhub/backend/internal/ws"
)

func main() {
	mockMode := flag.Bool("mock", false, "Drive scripted demo sessions through the pipeline")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("Failed to load config: %v", err)
		}
		log.Printf("No config file at %s, using defaults", *configPath)
		cfg = config.Default()
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	eventLog := eventlog.NewLog(cfg.Stream.WatchBuffer)
	store := session.NewStore(eventLog, cfg.Session.RetentionGrace)
	fanout := hub.New(eventLog, cfg.Stream.KeepaliveInterval, cfg.Stream.SendBuffer)
	store.SetStreamActivity(fanout)
	tracker := presence.NewTracker(eventLog)

	var gen answer.Generator
	if *mockMode {
		log.Println("Starting in mock mode (canned answer generator)")
		gen = mock.Generator()
	} else {
		// The real answer pipeline (speech-to-text, LLM) runs out of
		// process and posts captions over REST; without it configured,
		// questions get no answers but every other event flows.
		gen = answer.GeneratorFunc(func(ctx context.Context, question string, meta session.Metadata) (string, error) {
			return "", errors.New("no answer generator configured")
		})
	}
	pipeline := answer.NewPipeline(eventLog, store, gen, answer.DefaultClassifier, cfg.Answer.GenerateTimeout)

	server := ws.NewServer(cfg, store, fanout, eventLog, pipeline, tracker)
	server.SetStatsCollector(stats.NewCollector(store, fanout, eventLog))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go store.RunGC(ctx, cfg.Session.GCInterval, cfg.Session.IdleTimeout)

	if *mockMode {
		mock.NewRunner(store, pipeline, tracker).Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		fanout.Close()
		store.Close()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, server.Handler()); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
