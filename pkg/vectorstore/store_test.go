package vectorstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIndexPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "index.db")
}

func TestAttach_MissingIndexIsUnavailable(t *testing.T) {
	s := Attach(testIndexPath(t), nil, zerolog.Nop())
	defer s.Close()

	assert.False(t, s.Available())

	_, err := s.Search(context.Background(), "anything", nil)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStore_IndexAndKeywordSearch(t *testing.T) {
	path := testIndexPath(t)

	s, err := Create(path, nil, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	chunks := []Chunk{
		{ID: "report.pdf#0", Page: 1, Seq: 0, Content: "The annual revenue grew by twelve percent."},
		{ID: "report.pdf#1", Page: 2, Seq: 1, Content: "Headcount stayed flat across all regions."},
	}
	require.NoError(t, s.IndexDocument(context.Background(), "report.pdf", 2, chunks))

	stats := s.Stats()
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 2, stats.Chunks)

	results, err := s.Search(context.Background(), "revenue", &SearchOptions{
		Limit:         4,
		KeywordWeight: 1.0,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "report.pdf#0", results[0].ChunkID)
	assert.Equal(t, "report.pdf", results[0].Document)
	assert.Equal(t, 1, results[0].Page)
}

func TestStore_ReindexReplacesDocument(t *testing.T) {
	path := testIndexPath(t)

	s, err := Create(path, nil, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.IndexDocument(ctx, "doc.pdf", 1, []Chunk{
		{ID: "doc.pdf#0", Page: 1, Content: "old content"},
	}))
	require.NoError(t, s.IndexDocument(ctx, "doc.pdf", 1, []Chunk{
		{ID: "doc.pdf#0", Page: 1, Content: "new content"},
	}))

	stats := s.Stats()
	assert.Equal(t, 1, stats.Documents)
	assert.Equal(t, 1, stats.Chunks)

	results, err := s.Search(ctx, "content", &SearchOptions{Limit: 4, KeywordWeight: 1.0})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new content", results[0].Content)
}

func TestStore_ReloadAfterSwap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	staging := path + ".staging"

	reader := Attach(path, nil, zerolog.Nop())
	defer reader.Close()
	require.False(t, reader.Available())

	// Ingestion writes a staging index and renames it into place.
	writer, err := Create(staging, nil, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, writer.IndexDocument(context.Background(), "a.pdf", 1, []Chunk{
		{ID: "a.pdf#0", Page: 1, Content: "hello world"},
	}))
	require.NoError(t, writer.Close())
	require.NoError(t, os.Rename(staging, path))

	require.NoError(t, reader.Reload())
	assert.True(t, reader.Available())

	results, err := reader.Search(context.Background(), "hello", &SearchOptions{Limit: 4, KeywordWeight: 1.0})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestStore_ReloadRejectsForeignFile(t *testing.T) {
	path := testIndexPath(t)
	require.NoError(t, os.WriteFile(path, []byte("not a sqlite index"), 0o600))

	s := Attach(path, nil, zerolog.Nop())
	defer s.Close()

	assert.False(t, s.Available())
}

func TestFTSQuery_QuotesFreeText(t *testing.T) {
	assert.Equal(t, `"what" OR "is" OR "on" OR "page" OR "1?"`, ftsQuery("what is on page 1?"))
	assert.Equal(t, `"say" OR """hi"""`, ftsQuery(`say "hi"`))
	assert.Equal(t, `"revenue"`, ftsQuery("revenue"))
}
