package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/dshills/protocolqa/internal/config"
	"github.com/dshills/protocolqa/internal/embedder"
	"github.com/dshills/protocolqa/internal/engine"
	"github.com/dshills/protocolqa/internal/generator"
	"github.com/dshills/protocolqa/internal/indexer"
	"github.com/dshills/protocolqa/internal/metrics"
	"github.com/dshills/protocolqa/internal/resilience"
	"github.com/dshills/protocolqa/internal/router"
)

// app holds the wired components shared by every command
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	embedder embedder.Embedder
	engine   *engine.Engine
}

func newApp(cfgPath string) (*app, error) {
	// A missing .env is normal
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	// stdout is reserved for MCP and command output
	logger := cfg.NewLogger(os.Stderr)
	m := metrics.New()

	emb, err := embedder.New(cfg.Embedder)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	gen, err := generator.New(cfg.Generator, resilience.NewExecutor(cfg.Resilience, logger))
	if err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}

	classifier, err := generator.New(cfg.Generator, resilience.NewExecutor(router.ExecutorConfig(cfg.Resilience), logger))
	if err != nil {
		_ = emb.Close()
		return nil, fmt.Errorf("failed to initialize classifier: %w", err)
	}

	eng, err := engine.New(engine.Deps{
		Indexer:    indexer.New(emb, m, logger),
		Generator:  gen,
		Classifier: classifier,
		Metrics:    m,
		Logger:     logger,
	}, cfg.Engine)
	if err != nil {
		_ = emb.Close()
		return nil, err
	}

	logger.Debug("components ready",
		"embedder", embedder.IdentityOf(emb).String(),
		"generator", cfg.Generator.Provider,
		"index_dir", cfg.Index.Dir)

	return &app{cfg: cfg, logger: logger, metrics: m, embedder: emb, engine: eng}, nil
}

func (a *app) close() {
	if err := a.engine.Close(); err != nil {
		a.logger.Warn("failed to close index", "error", err)
	}
	_ = a.embedder.Close()
}

// ingest builds or reuses the bundle for the protocol at path
func (a *app) ingest(ctx context.Context, path string, force bool) (*indexer.Manifest, error) {
	src, err := indexer.SourceFromFile(path)
	if err != nil {
		return nil, err
	}
	opts := a.cfg.Index.Options()
	if force {
		opts.UseExisting = false
	}
	return a.engine.Ingest(ctx, src, opts)
}

// open makes an index available: the protocol at path when given,
// otherwise the persisted bundle in the configured directory
func (a *app) open(ctx context.Context, path string) error {
	if path != "" {
		_, err := a.ingest(ctx, path, false)
		return err
	}
	if !indexer.ManifestExists(a.cfg.Index.Dir) {
		return fmt.Errorf("%w in %s: run 'protocolqa ingest <file>' or pass --protocol", engine.ErrNoIndex, a.cfg.Index.Dir)
	}
	_, err := a.engine.Load(ctx, a.cfg.Index.Dir)
	return err
}

// loadIfPresent loads the persisted bundle when one exists
func (a *app) loadIfPresent(ctx context.Context) error {
	if !indexer.ManifestExists(a.cfg.Index.Dir) {
		a.logger.Info("no persisted index", "dir", a.cfg.Index.Dir)
		return nil
	}
	_, err := a.engine.Load(ctx, a.cfg.Index.Dir)
	if errors.Is(err, indexer.ErrIndexLoad) {
		return fmt.Errorf("persisted index unusable, rebuild with 'protocolqa ingest --force': %w", err)
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
