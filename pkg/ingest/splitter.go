package ingest

import (
	"fmt"
	"strings"

	"github.com/raglab/docqa/pkg/vectorstore"
)

// DefaultChunkSize is the fixed character budget per chunk. Splitting uses
// zero overlap: every character of a page lands in exactly one chunk.
const DefaultChunkSize = 500

// SplitPages splits page texts into fixed-size chunks. Chunk ids are
// deterministic ("<doc>#p<page>.<seq>") so reindexing the same file
// produces the same ids.
func SplitPages(document string, pages []string, chunkSize int) []vectorstore.Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	var chunks []vectorstore.Chunk
	seq := 0
	for pageIdx, page := range pages {
		for _, content := range splitText(page, chunkSize) {
			chunks = append(chunks, vectorstore.Chunk{
				ID:      fmt.Sprintf("%s#p%d.%d", document, pageIdx+1, seq),
				Page:    pageIdx + 1,
				Seq:     seq,
				Content: content,
			})
			seq++
		}
	}
	return chunks
}

// splitText cuts text into pieces of at most chunkSize characters,
// preferring to break at whitespace near the budget so words stay intact.
func splitText(text string, chunkSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var pieces []string
	for len(text) > chunkSize {
		cut := chunkSize
		// Back up to the nearest whitespace, unless that would make the
		// chunk degenerate.
		if idx := strings.LastIndexAny(text[:cut], " \t\n"); idx > chunkSize/2 {
			cut = idx
		}
		piece := strings.TrimSpace(text[:cut])
		if piece != "" {
			pieces = append(pieces, piece)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		pieces = append(pieces, text)
	}
	return pieces
}
