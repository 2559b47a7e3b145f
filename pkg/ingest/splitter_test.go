package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitText_RespectsBudget(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta ", 100)

	pieces := splitText(text, 500)
	require.NotEmpty(t, pieces)

	for _, p := range pieces {
		assert.LessOrEqual(t, len(p), 500)
		assert.NotEmpty(t, strings.TrimSpace(p))
	}
}

func TestSplitText_ZeroOverlap(t *testing.T) {
	text := strings.Repeat("word ", 300)

	pieces := splitText(text, 100)

	// Rejoining the pieces reproduces the original words exactly once.
	rejoined := strings.Fields(strings.Join(pieces, " "))
	original := strings.Fields(text)
	assert.Equal(t, len(original), len(rejoined))
}

func TestSplitText_ShortAndEmptyInput(t *testing.T) {
	assert.Nil(t, splitText("", 500))
	assert.Nil(t, splitText("   \n ", 500))

	pieces := splitText("short text", 500)
	require.Len(t, pieces, 1)
	assert.Equal(t, "short text", pieces[0])
}

func TestSplitPages_ChunkMetadata(t *testing.T) {
	pages := []string{
		strings.Repeat("page one content ", 50),
		"",
		"page three",
	}

	chunks := SplitPages("manual.pdf", pages, 200)
	require.NotEmpty(t, chunks)

	// Sequence numbers are global and strictly increasing; pages are
	// one-based; the empty page contributes nothing.
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
		assert.True(t, c.Page == 1 || c.Page == 3)
		assert.Contains(t, c.ID, "manual.pdf#p")
	}
	last := chunks[len(chunks)-1]
	assert.Equal(t, 3, last.Page)
	assert.Equal(t, "page three", last.Content)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("report.pdf"))
	assert.True(t, IsPDF("REPORT.PDF"))
	assert.False(t, IsPDF("report.txt"))
	assert.False(t, IsPDF("report"))
}
