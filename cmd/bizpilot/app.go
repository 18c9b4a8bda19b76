package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/bizpilot/bizpilot/internal/classify"
	"github.com/bizpilot/bizpilot/internal/compose"
	"github.com/bizpilot/bizpilot/internal/config"
	"github.com/bizpilot/bizpilot/internal/corpus"
	"github.com/bizpilot/bizpilot/internal/generate"
	"github.com/bizpilot/bizpilot/internal/modellog"
	"github.com/bizpilot/bizpilot/internal/ollama"
	"github.com/bizpilot/bizpilot/internal/orchestrator"
	"github.com/bizpilot/bizpilot/internal/pipeline"
	"github.com/bizpilot/bizpilot/internal/retrieval"
	"github.com/bizpilot/bizpilot/internal/scoring"
	"github.com/bizpilot/bizpilot/internal/storage"
)

// app holds the wired components shared by the serve, worker and seed
// commands.
type app struct {
	cfg          config.Config
	logger       *slog.Logger
	store        *storage.Store
	retriever    *retrieval.Retriever
	corpus       *corpus.Manager
	orchestrator *orchestrator.Orchestrator
}

// buildApp loads config, opens storage and wires the pipeline.
func buildApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	client := ollama.New(cfg.Ollama.BaseURL, cfg.Orchestrator.CallTimeout)
	audit := modellog.New(store, logger)

	embedder := retrieval.NewEmbedder(client, cfg.Ollama.EmbedModel)
	index := retrieval.NewSQLiteIndex(store.DB())
	retriever := retrieval.NewRetriever(embedder, index,
		cfg.Retrieval.TopK, float32(cfg.Retrieval.SimilarityFloor), cfg.Retrieval.SnippetBudget)

	classifier := classify.New(client, cfg.Ollama.ChatModel, audit)
	builder := compose.NewBuilder(cfg.Compose.MaxSnippets, cfg.Compose.CharBudget)
	generator := generate.New(client, cfg.Ollama.ChatModel, audit)
	scorer := scoring.New(
		cfg.Scoring.RetrievalWeight, cfg.Scoring.TierWeight, cfg.Scoring.LengthWeight,
		cfg.Scoring.MinBodyChars, cfg.Scoring.ShortPenalty)

	runner := pipeline.NewRunner(retriever, classifier, builder, generator, scorer, logger)
	orch := orchestrator.New(store, runner, orchestrator.Options{
		Workers:     cfg.Orchestrator.Workers,
		BaseBackoff: cfg.Orchestrator.BaseBackoff,
		MaxBackoff:  cfg.Orchestrator.MaxBackoff,
		RunTimeout:  cfg.Orchestrator.RunTimeout,
		Poll:        cfg.Orchestrator.Poll,
	}, logger)

	return &app{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		retriever:    retriever,
		corpus:       corpus.NewManager(store, embedder, index, logger),
		orchestrator: orch,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing storage", "error", err)
	}
}
