// Package ingest turns uploaded PDF files into indexed document chunks.
//
// Ingestion never mutates a live index in place: it clones the current
// index file to a staging path, indexes the new document there, then
// renames the staging file over the real one. A failed ingestion leaves
// the live index untouched.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/raglab/docqa/internal/observability"
	"github.com/raglab/docqa/internal/tracing"
	"github.com/raglab/docqa/pkg/vectorstore"
)

// Config holds ingestor configuration.
type Config struct {
	Embedder  vectorstore.EmbeddingProvider
	ChunkSize int
	Logger    zerolog.Logger
}

// Ingestor builds and swaps on-disk vector indexes from PDF files.
type Ingestor struct {
	embedder  vectorstore.EmbeddingProvider
	chunkSize int
	logger    zerolog.Logger

	// Serializes index swaps; searches read through separate Store
	// handles and are not blocked by an in-flight ingestion.
	mu sync.Mutex
}

// New creates an Ingestor.
func New(cfg Config) *Ingestor {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Ingestor{
		embedder:  cfg.Embedder,
		chunkSize: chunkSize,
		logger:    cfg.Logger,
	}
}

// Ingest loads the PDF at filePath, splits it into chunks and writes an
// updated index at indexPath via the staging swap. Returns ErrNotPDF for
// non-PDF input before any index state is touched.
func (ing *Ingestor) Ingest(ctx context.Context, filePath, indexPath string) error {
	if !IsPDF(filePath) {
		return ErrNotPDF
	}

	document := filepath.Base(filePath)
	ctx, span := tracing.StartSpan(ctx, "docqa/ingest", "ingest.document",
		attribute.String("document", document))
	defer span.End()

	start := time.Now()
	logger := ing.logger.With().Str("document", document).Logger()

	pages, err := ExtractPages(filePath)
	if err != nil {
		observability.RecordIngest(time.Since(start), false)
		return fmt.Errorf("failed to extract pages: %w", err)
	}

	chunks := SplitPages(document, pages, ing.chunkSize)
	if len(chunks) == 0 {
		observability.RecordIngest(time.Since(start), false)
		return errors.New("document produced no text chunks")
	}

	ing.mu.Lock()
	defer ing.mu.Unlock()

	staging := indexPath + ".staging"
	os.Remove(staging)

	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		observability.RecordIngest(time.Since(start), false)
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	// Clone the current index so ingestion extends rather than replaces.
	if _, err := os.Stat(indexPath); err == nil {
		if err := copyFile(indexPath, staging); err != nil {
			observability.RecordIngest(time.Since(start), false)
			return fmt.Errorf("failed to stage index: %w", err)
		}
	}

	store, err := vectorstore.Create(staging, ing.embedder, logger)
	if err != nil {
		os.Remove(staging)
		observability.RecordIngest(time.Since(start), false)
		return fmt.Errorf("failed to open staging index: %w", err)
	}

	if err := store.IndexDocument(ctx, document, len(pages), chunks); err != nil {
		store.Close()
		os.Remove(staging)
		observability.RecordIngest(time.Since(start), false)
		return fmt.Errorf("failed to index document: %w", err)
	}

	stats := store.Stats()
	if err := store.Close(); err != nil {
		os.Remove(staging)
		observability.RecordIngest(time.Since(start), false)
		return fmt.Errorf("failed to close staging index: %w", err)
	}

	if err := os.Rename(staging, indexPath); err != nil {
		os.Remove(staging)
		observability.RecordIngest(time.Since(start), false)
		return fmt.Errorf("failed to swap index: %w", err)
	}

	observability.RecordIngest(time.Since(start), true)
	observability.SetIndexedChunks(stats.Chunks)

	logger.Info().
		Int("pages", len(pages)).
		Int("chunks", len(chunks)).
		Dur("duration", time.Since(start)).
		Msg("Document ingested")

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
