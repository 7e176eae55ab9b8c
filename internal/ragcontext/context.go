// Package ragcontext renders retrieved chunks into model context and citation records.
//
// FormatContext and FormatCitations assign the same 1-based index to each chunk.
// The model is told to cite "[Source N]", so N must always match the citation
// list position.
package ragcontext

import (
	"fmt"
	"strings"

	"github.com/liliang-cn/ragsession/internal/domain"
)

// NoSources is emitted in place of context when retrieval returned nothing.
const NoSources = "No relevant sources were retrieved."

// DefaultExcerptLength bounds citation excerpts and run output summaries.
const DefaultExcerptLength = 400

const untitled = "Untitled"

// Label returns the citation label for the chunk at position index.
func Label(index int) string {
	return fmt.Sprintf("Source %d", index+1)
}

// FormatContext renders chunks as labeled blocks separated by blank lines.
func FormatContext(chunks []domain.RetrievedChunk) string {
	if len(chunks) == 0 {
		return NoSources
	}

	blocks := make([]string, len(chunks))
	for i, chunk := range chunks {
		blocks[i] = Label(i) + ": " + title(chunk.DocumentTitle) + "\n" + chunk.Content
	}
	return strings.Join(blocks, "\n\n")
}

// FormatCitations maps chunks to citations using the same indexes as FormatContext.
func FormatCitations(chunks []domain.RetrievedChunk, excerptLength int) []domain.Citation {
	citations := make([]domain.Citation, len(chunks))
	for i, chunk := range chunks {
		citations[i] = domain.Citation{
			Label:      Label(i),
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Title:      title(chunk.DocumentTitle),
			Excerpt:    Truncate(chunk.Content, excerptLength),
		}
	}
	return citations
}

// SourceCitations converts rendered citations into rows for a document.
func SourceCitations(documentID string, citations []domain.Citation) []*domain.SourceCitation {
	rows := make([]*domain.SourceCitation, len(citations))
	for i, c := range citations {
		rows[i] = &domain.SourceCitation{
			DocumentID: documentID,
			ChunkID:    c.ChunkID,
			Label:      c.Label,
			Excerpt:    c.Excerpt,
			Position:   i,
		}
	}
	return rows
}

// RenderCitations rebuilds the labeled source list from stored citations.
// Each block carries the stored excerpt, so the ordering matches the context
// the run was generated from.
func RenderCitations(citations []*domain.SourceCitation) string {
	if len(citations) == 0 {
		return NoSources
	}

	blocks := make([]string, len(citations))
	for i, c := range citations {
		blocks[i] = c.Label + "\n" + c.Excerpt
	}
	return strings.Join(blocks, "\n\n")
}

// Truncate returns at most n runes of s. A non-positive n uses DefaultExcerptLength.
func Truncate(s string, n int) string {
	if n <= 0 {
		n = DefaultExcerptLength
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func title(t string) string {
	if strings.TrimSpace(t) == "" {
		return untitled
	}
	return t
}
