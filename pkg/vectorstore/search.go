package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SearchResult is one scored chunk returned by Search.
type SearchResult struct {
	ChunkID      string   `json:"chunk_id"`
	Document     string   `json:"document"`
	Page         int      `json:"page"`
	Content      string   `json:"content"`
	Score        float64  `json:"score"`
	VectorScore  *float64 `json:"vector_score,omitempty"`
	KeywordScore *float64 `json:"keyword_score,omitempty"`
}

// SearchOptions configures hybrid search behavior.
type SearchOptions struct {
	Limit         int     `json:"limit"`
	VectorWeight  float64 `json:"vector_weight"`
	KeywordWeight float64 `json:"keyword_weight"`
	MinScore      float64 `json:"min_score"`
}

// ErrUnavailable is returned by Search when no index is attached.
var ErrUnavailable = errors.New("vector index unavailable")

type vectorHit struct {
	chunkID    string
	similarity float64
}

type keywordHit struct {
	chunkID   string
	bm25Score float64
}

// Search runs hybrid retrieval: vector similarity when an embedder is
// configured, FTS5 keyword search always, merged with weighted normalized
// scores. Either leg may fail independently; both failing is an error.
func (s *Store) Search(ctx context.Context, query string, opts *SearchOptions) ([]SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrUnavailable
	}
	if query == "" {
		return []SearchResult{}, nil
	}

	resolved := SearchOptions{Limit: 4, VectorWeight: 0.7, KeywordWeight: 0.3}
	if opts != nil {
		resolved.MinScore = opts.MinScore
		if opts.Limit > 0 {
			resolved.Limit = opts.Limit
		}
		if opts.VectorWeight != 0 || opts.KeywordWeight != 0 {
			resolved.VectorWeight = opts.VectorWeight
			resolved.KeywordWeight = opts.KeywordWeight
		}
	}
	opts = &resolved

	var (
		vectorHits  []vectorHit
		keywordHits []keywordHit
		vectorErr   error
		keywordErr  error
		wg          sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if s.embedder != nil {
			vectorHits, vectorErr = s.vectorSearch(ctx, query, 100)
		}
	}()
	go func() {
		defer wg.Done()
		keywordHits, keywordErr = s.keywordSearch(ctx, query, 100)
	}()
	wg.Wait()

	if vectorErr != nil {
		s.logger.Warn().Err(vectorErr).Msg("Vector search failed, using keyword only")
	}
	if keywordErr != nil {
		s.logger.Warn().Err(keywordErr).Msg("Keyword search failed, using vector only")
	}
	if vectorErr != nil && keywordErr != nil {
		return nil, fmt.Errorf("both search legs failed: %w", vectorErr)
	}

	results := s.mergeHits(vectorHits, keywordHits, opts)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	return results, nil
}

func (s *Store) vectorSearch(ctx context.Context, query string, limit int) ([]vectorHit, error) {
	embedding, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, vec_distance_cosine(embedding, ?) AS distance
		FROM chunk_embeddings
		ORDER BY distance ASC
		LIMIT ?
	`, string(embeddingJSON), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []vectorHit
	for rows.Next() {
		var chunkID string
		var distance float64
		if err := rows.Scan(&chunkID, &distance); err != nil {
			return nil, err
		}
		hits = append(hits, vectorHit{
			chunkID:    chunkID,
			similarity: 1.0 - distance,
		})
	}

	return hits, rows.Err()
}

func (s *Store) keywordSearch(ctx context.Context, query string, limit int) ([]keywordHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, bm25(chunks_fts) AS score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, ftsQuery(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []keywordHit
	for rows.Next() {
		var chunkID string
		var score float64
		if err := rows.Scan(&chunkID, &score); err != nil {
			return nil, err
		}
		// BM25 scores come back negative.
		hits = append(hits, keywordHit{chunkID: chunkID, bm25Score: -score})
	}

	return hits, rows.Err()
}

// ftsQuery quotes each term and joins them with OR so free-text questions
// survive the FTS5 query grammar (bare "?" or "-" would otherwise be syntax
// errors) and match on any term rather than the exact phrase.
func ftsQuery(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func (s *Store) mergeHits(vectorHits []vectorHit, keywordHits []keywordHit, opts *SearchOptions) []SearchResult {
	vectorMap := make(map[string]float64)
	keywordMap := make(map[string]float64)

	var maxKeyword float64
	for _, h := range vectorHits {
		vectorMap[h.chunkID] = h.similarity
	}
	for _, h := range keywordHits {
		keywordMap[h.chunkID] = h.bm25Score
		if h.bm25Score > maxKeyword {
			maxKeyword = h.bm25Score
		}
	}

	chunkIDs := make(map[string]bool)
	for id := range vectorMap {
		chunkIDs[id] = true
	}
	for id := range keywordMap {
		chunkIDs[id] = true
	}

	type scoredHit struct {
		chunkID      string
		score        float64
		vectorScore  *float64
		keywordScore *float64
	}

	var scored []scoredHit
	for chunkID := range chunkIDs {
		var normalizedVector, normalizedKeyword float64

		// Map cosine similarity [-1, 1] to [0, 1].
		if v, ok := vectorMap[chunkID]; ok {
			normalizedVector = (v + 1) / 2
		}
		if k, ok := keywordMap[chunkID]; ok && maxKeyword > 0 {
			normalizedKeyword = k / maxKeyword
		}

		combined := normalizedVector*opts.VectorWeight + normalizedKeyword*opts.KeywordWeight
		if opts.MinScore > 0 && combined < opts.MinScore {
			continue
		}

		var vecPtr, keyPtr *float64
		if _, ok := vectorMap[chunkID]; ok {
			v := normalizedVector
			vecPtr = &v
		}
		if _, ok := keywordMap[chunkID]; ok {
			k := normalizedKeyword
			keyPtr = &k
		}

		scored = append(scored, scoredHit{
			chunkID:      chunkID,
			score:        combined,
			vectorScore:  vecPtr,
			keywordScore: keyPtr,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	results := make([]SearchResult, 0, len(scored))
	for _, h := range scored {
		var content, document string
		var page int
		err := s.db.QueryRow(`
			SELECT c.content, c.page, d.name
			FROM chunks c
			JOIN documents d ON c.document_id = d.id
			WHERE c.id = ?
		`, h.chunkID).Scan(&content, &page, &document)
		if err != nil {
			s.logger.Warn().Err(err).Str("chunk_id", h.chunkID).Msg("Failed to fetch chunk details")
			continue
		}

		results = append(results, SearchResult{
			ChunkID:      h.chunkID,
			Document:     document,
			Page:         page,
			Content:      content,
			Score:        h.score,
			VectorScore:  h.vectorScore,
			KeywordScore: h.keywordScore,
		})
	}

	return results
}
