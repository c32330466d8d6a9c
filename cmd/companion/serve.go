package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/run"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"companion/internal/config"
	"companion/internal/embedding"
	"companion/internal/graph"
	"companion/internal/llm"
	"companion/internal/logging"
	"companion/internal/memory"
	"companion/internal/msg"
	"companion/internal/schedule"
	"companion/internal/search"
	"companion/internal/server"
	"companion/internal/speech"
	"companion/internal/store"
	"companion/internal/whatsapp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the WhatsApp webhook server",
	Long: `Starts the webhook HTTP server and keeps it running until interrupted.
The config file is watched for changes; the log level is applied live.`,
	RunE: runServe,
}

// app bundles everything the commands need after wiring.
type app struct {
	store    *store.Store
	pipeline *graph.Pipeline
	deps     server.Deps
}

// buildApp wires the service graph from configuration. Webhook-only
// requirements (WhatsApp credentials) are validated in serve, not here, so
// the local chat command works without them.
func buildApp(cfg *config.Config) (*app, error) {
	chat, err := llm.NewFromConfig(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to build chat client: %w", err)
	}

	st, err := store.Open(cfg.Memory.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	var mem *memory.Manager
	if cfg.Embedding.APIKey != "" {
		engine, err := embedding.NewGenAIEngine(cfg.Embedding.APIKey, cfg.Embedding.Model, "SEMANTIC_SIMILARITY")
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to build embedding engine: %w", err)
		}
		mem = memory.NewManager(chat, engine, st, cfg.Memory.TopK, cfg.Memory.SimilarityThreshold)
	} else {
		logger.Warn("embedding API key not set, long-term memory disabled")
	}

	var searcher graph.Searcher
	var dispatcher server.InfoPointDispatcher
	if cfg.Search.Enabled && cfg.Search.BaseURL != "" {
		client := search.NewClient(cfg.Search, cfg.GetSearchTimeout())
		searcher = client
		dispatcher = client
	} else if cfg.Search.Enabled {
		logger.Warn("search enabled but base URL not set, knowledge lookups disabled")
	}

	var tts graph.Synthesizer
	if cfg.Speech.ElevenLabsAPIKey != "" {
		tts = speech.NewElevenLabsClient(cfg.Speech)
	}

	pipeline := graph.NewPipeline(chat, st, mem, searcher, tts, schedule.NewGenerator(nil), graph.Options{
		SummaryTrigger:   cfg.Memory.SummaryTrigger,
		KeepAfterSummary: cfg.Memory.KeepAfterSummary,
		RouterWindow:     cfg.Memory.RouterWindow,
		SearchEnabled:    searcher != nil,
	})

	wa := whatsapp.NewClient(cfg.WhatsApp)

	deps := server.Deps{
		Pipeline:   pipeline,
		Sender:     wa,
		Downloader: wa,
		Dispatcher: dispatcher,
	}
	if cfg.Speech.WhisperAPIKey != "" {
		deps.Transcriber = speech.NewWhisperClient(cfg.Speech)
		deps.Describer = speech.NewVisionClient(cfg.Speech)
	}
	if notifier := msg.NewTwilio(cfg.Notify); notifier != nil {
		deps.Notifier = notifier
	}

	return &app{store: st, pipeline: pipeline, deps: deps}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	srv := server.New(logger, cfg, a.deps)

	var g run.Group

	// Webhook HTTP server.
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return srv.ListenAndServe(ctx)
		}, func(error) {
			cancel()
		})
	}

	// Config hot reload: apply log level changes live.
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			err := config.Watch(ctx, configPath, func(fresh *config.Config) {
				logging.SetLevel(fresh.Logging.Level)
				logger.Info("config reloaded", zap.String("level", fresh.Logging.Level))
			}, func(err error) {
				logger.Warn("config reload failed", zap.Error(err))
			})
			if err == context.Canceled {
				return nil
			}
			return err
		}, func(error) {
			cancel()
		})
	}

	// Signal handling.
	{
		sig := make(chan os.Signal, 1)
		done := make(chan struct{})
		g.Add(func() error {
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			select {
			case s := <-sig:
				logger.Info("shutting down", zap.String("signal", s.String()))
				return nil
			case <-done:
				return nil
			}
		}, func(error) {
			signal.Stop(sig)
			close(done)
		})
	}

	return g.Run()
}
