package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raglab/docqa/internal/config"
	"github.com/raglab/docqa/internal/logger"
	"github.com/raglab/docqa/internal/server"
	"github.com/raglab/docqa/internal/tracing"
	"github.com/raglab/docqa/pkg/agent"
	"github.com/raglab/docqa/pkg/gateway"
	"github.com/raglab/docqa/pkg/ingest"
	"github.com/raglab/docqa/pkg/registry"
	"github.com/raglab/docqa/pkg/vectorstore"
	"github.com/raglab/docqa/pkg/websearch"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the docqa HTTP server",
	Long: `Run the docqa HTTP server in the foreground.
The server accepts PDF uploads, answers questions per session, and streams
events to WebSocket subscribers until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer lg.Close()
	log := lg.GetZerolog()

	if err := tracing.InitOpenTelemetry("docqa"); err != nil {
		log.Warn().Err(err).Msg("failed to initialize tracing")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.ShutdownOpenTelemetry(ctx)
	}()

	var embedder vectorstore.EmbeddingProvider
	if cfg.Embedding.APIKey != "" {
		embedder = vectorstore.NewOpenAIEmbedder(cfg.Embedding.APIKey, cfg.Embedding.Model)
	} else {
		log.Warn().Msg("no embedding api key configured, document search is keyword-only")
	}

	provider, err := agent.NewProvider(cfg.LLM.Provider, cfg.LLM.APIKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM provider: %w", err)
	}

	var searcher agent.WebSearcher
	if cfg.WebSearch.APIKey != "" {
		searcher = websearch.NewClient(cfg.WebSearch.APIKey, websearch.WithMaxResults(cfg.WebSearch.MaxResults))
	} else {
		log.Warn().Msg("no web search api key configured, web fallback disabled")
	}

	shared := vectorstore.Attach(cfg.Ingest.IndexPath, embedder, log)
	defer shared.Close()

	factory := func() (*agent.Agent, error) {
		return agent.New(agent.Config{
			Provider:     provider,
			Model:        cfg.LLM.Model,
			Temperature:  cfg.LLM.Temperature,
			MaxTokens:    cfg.LLM.MaxTokens,
			Store:        shared,
			WebSearcher:  searcher,
			MemoryWindow: cfg.Memory.Window,
			Logger:       log,
		})
	}

	reg := registry.New(factory, log)
	ingestor := ingest.New(ingest.Config{
		Embedder:  embedder,
		ChunkSize: cfg.Ingest.ChunkSize,
		Logger:    log,
	})
	hub := gateway.NewHub(log)

	srv, err := server.New(server.Options{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		QueryTimeout:    time.Duration(cfg.Server.QueryTimeout) * time.Second,
		MaxUploadMB:     cfg.Server.MaxUploadMB,
		DocumentsDir:    cfg.Ingest.DocumentsDir,
		IndexPath:       cfg.Ingest.IndexPath,
		SessionIndexDir: filepath.Join(filepath.Dir(cfg.Ingest.IndexPath), "sessions"),
	}, reg, ingestor, hub, shared, embedder, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ingestToShared := func(path string) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		if err := ingestor.Ingest(ctx, path, cfg.Ingest.IndexPath); err != nil {
			log.Error().Err(err).Str("path", path).Msg("background ingestion failed")
			return
		}
		if err := shared.Reload(); err != nil {
			log.Error().Err(err).Msg("failed to reload shared index")
			return
		}
		reg.RefreshShared(shared)
		hub.Broadcast(gateway.EventDocumentIngested, map[string]string{
			"document": filepath.Base(path),
		})
	}

	var watcher *ingest.Watcher
	if cfg.Ingest.WatchEnabled {
		watcher, err = ingest.NewWatcher(log, ingestToShared)
		if err != nil {
			return fmt.Errorf("failed to create document watcher: %w", err)
		}
		if err := os.MkdirAll(cfg.Ingest.DocumentsDir, 0755); err != nil {
			return fmt.Errorf("failed to create documents directory: %w", err)
		}
		if err := watcher.Watch(cfg.Ingest.DocumentsDir); err != nil {
			return fmt.Errorf("failed to watch documents directory: %w", err)
		}
		defer watcher.Stop()
	}

	var reindexer *ingest.Reindexer
	if cfg.Ingest.ReindexCron != "" {
		reindexer, err = ingest.NewReindexer(cfg.Ingest.ReindexCron, log, func() {
			entries, err := os.ReadDir(cfg.Ingest.DocumentsDir)
			if err != nil {
				log.Error().Err(err).Msg("failed to list documents for reindex")
				return
			}
			for _, entry := range entries {
				if entry.IsDir() || !ingest.IsPDF(entry.Name()) {
					continue
				}
				ingestToShared(filepath.Join(cfg.Ingest.DocumentsDir, entry.Name()))
			}
		})
		if err != nil {
			return fmt.Errorf("failed to create reindexer: %w", err)
		}
		reindexer.Start()
		defer reindexer.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		if err := srv.Stop(); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}
