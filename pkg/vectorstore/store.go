// Package vectorstore persists embedded document chunks in a single sqlite
// file and serves hybrid similarity search over them.
//
// The index file is written only by ingestion, which stages a complete
// replacement and renames it into place. Readers hold the store's read lock,
// so a Reload after the swap makes the new index visible atomically: a
// searcher sees either the old index or the fully written new one.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	sqlite_vec.Auto()
}

// Chunk is one text fragment of a split document. Chunks are immutable once
// indexed.
type Chunk struct {
	ID      string `json:"id"`
	Page    int    `json:"page"`
	Seq     int    `json:"seq"`
	Content string `json:"content"`
}

// Stats describes the current index contents.
type Stats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
}

// Store is a read-mostly handle on the on-disk index. A nil or failed
// underlying database degrades into Available() == false rather than an
// error; callers surface that as "index unavailable".
type Store struct {
	mu       sync.RWMutex
	db       *sql.DB
	path     string
	embedder EmbeddingProvider
	logger   zerolog.Logger
}

// Attach opens the index at path if it exists. Open errors are swallowed:
// the returned store reports Available() == false and a later Reload can
// recover once ingestion has written a good index.
func Attach(path string, embedder EmbeddingProvider, logger zerolog.Logger) *Store {
	s := &Store{
		path:     path,
		embedder: embedder,
		logger:   logger,
	}

	if err := s.Reload(); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Vector index unavailable")
	}

	return s
}

// Create opens or creates a writable index at path and initializes the
// schema. Used by ingestion against a staging path.
func Create(path string, embedder EmbeddingProvider, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("index path is required")
	}

	db, err := openIndex(path)
	if err != nil {
		return nil, err
	}

	s := &Store{
		db:       db,
		path:     path,
		embedder: embedder,
		logger:   logger,
	}

	if err := s.initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}

	return s, nil
}

func openIndex(path string) (*sql.DB, error) {
	// Default rollback journal, not WAL: the index file must stay a single
	// file so the staging rename swap is atomic.
	db, err := sql.Open("sqlite3", path+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return db, nil
}

func (s *Store) initSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			pages INTEGER NOT NULL,
			indexed_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id INTEGER NOT NULL,
			page INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			content TEXT NOT NULL,
			FOREIGN KEY (document_id) REFERENCES documents(id)
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			chunk_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);
	`

	if _, err := db.Exec(schema); err != nil {
		return err
	}

	if s.embedder != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS chunk_embeddings USING vec0(
				chunk_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, s.embedder.Dimension())

		if _, err := db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// Available reports whether the index is attached and usable.
func (s *Store) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil
}

// Path returns the on-disk index path this store attaches to.
func (s *Store) Path() string {
	return s.path
}

// Reload reopens the index from its on-disk path, replacing the current
// handle. Readers blocked on the read lock see either the old or the new
// index, never a partial one. A missing file leaves the store unavailable
// without error noise beyond the returned error.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err != nil {
		if s.db != nil {
			s.db.Close()
			s.db = nil
		}
		return fmt.Errorf("index not present: %w", err)
	}

	db, err := openIndex(s.path)
	if err != nil {
		return err
	}

	// Sanity check the schema so a corrupt or foreign file fails loudly
	// here instead of at first search.
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&n); err != nil {
		db.Close()
		return fmt.Errorf("incompatible index format: %w", err)
	}

	if s.db != nil {
		s.db.Close()
	}
	s.db = db

	s.logger.Debug().Str("path", s.path).Int("chunks", n).Msg("Vector index attached")
	return nil
}

// IndexDocument replaces any previous entry for name and indexes the given
// chunks inside one transaction. Embeddings are generated per chunk when an
// embedder is configured; an embedding failure fails the whole transaction
// so the index never holds a half-embedded document.
func (s *Store) IndexDocument(ctx context.Context, name string, pages int, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return errors.New("index unavailable")
	}
	if name == "" {
		return errors.New("document name is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Reindexing the same file replaces it wholesale.
	if _, err := tx.Exec("DELETE FROM chunks_fts WHERE chunk_id IN (SELECT c.id FROM chunks c JOIN documents d ON c.document_id = d.id WHERE d.name = ?)", name); err != nil {
		return err
	}
	if s.embedder != nil {
		if _, err := tx.Exec("DELETE FROM chunk_embeddings WHERE chunk_id IN (SELECT c.id FROM chunks c JOIN documents d ON c.document_id = d.id WHERE d.name = ?)", name); err != nil {
			return err
		}
	}
	if _, err := tx.Exec("DELETE FROM chunks WHERE document_id IN (SELECT id FROM documents WHERE name = ?)", name); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM documents WHERE name = ?", name); err != nil {
		return err
	}

	result, err := tx.Exec(
		"INSERT INTO documents (name, pages, indexed_at) VALUES (?, ?, ?)",
		name, pages, time.Now().Unix(),
	)
	if err != nil {
		return err
	}
	docID, _ := result.LastInsertId()

	for _, chunk := range chunks {
		if _, err := tx.Exec(
			"INSERT INTO chunks (id, document_id, page, seq, content) VALUES (?, ?, ?, ?, ?)",
			chunk.ID, docID, chunk.Page, chunk.Seq, chunk.Content,
		); err != nil {
			return err
		}

		if _, err := tx.Exec(
			"INSERT INTO chunks_fts (chunk_id, content) VALUES (?, ?)",
			chunk.ID, chunk.Content,
		); err != nil {
			return err
		}

		if s.embedder != nil {
			embedding, err := s.embedder.GenerateEmbedding(ctx, chunk.Content)
			if err != nil {
				return fmt.Errorf("failed to embed chunk %s: %w", chunk.ID, err)
			}
			embeddingJSON, err := json.Marshal(embedding)
			if err != nil {
				return fmt.Errorf("failed to marshal embedding: %w", err)
			}
			if _, err := tx.Exec(
				"INSERT INTO chunk_embeddings (chunk_id, embedding) VALUES (?, ?)",
				chunk.ID, string(embeddingJSON),
			); err != nil {
				return fmt.Errorf("failed to store embedding: %w", err)
			}
		}
	}

	return tx.Commit()
}

// Stats returns document and chunk counts. Zero values when unavailable.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	if s.db == nil {
		return stats
	}

	s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&stats.Documents)
	s.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&stats.Chunks)
	return stats
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
