package chunker

import (
	"regexp"
	"strconv"
	"strings"
)

// Chunk is one slice of a source document ready for embedding.
type Chunk struct {
	ID    string
	Text  string
	Index int
}

// SentenceChunker splits text into sentence-based chunks with overlap.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
	splitter          *regexp.Regexp
}

func NewSentenceChunker(sentencesPerChunk, overlapSentences int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	if overlapSentences < 0 {
		overlapSentences = 0
	}
	if overlapSentences >= sentencesPerChunk {
		overlapSentences = sentencesPerChunk - 1
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
		splitter:          regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
	}
}

// Chunk splits content into chunks whose IDs are "documentID:index".
func (c *SentenceChunker) Chunk(documentID, content string) []Chunk {
	sentences := c.sentences(content)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	i := 0
	idx := 0
	for i < len(sentences) {
		end := i + c.sentencesPerChunk
		if end > len(sentences) {
			end = len(sentences)
		}
		chunks = append(chunks, Chunk{
			ID:    documentID + ":" + strconv.Itoa(idx),
			Text:  strings.Join(sentences[i:end], " "),
			Index: idx,
		})
		if end == len(sentences) {
			break
		}
		i = end - c.overlapSentences
		idx++
	}
	return chunks
}

func (c *SentenceChunker) sentences(content string) []string {
	var out []string
	consumed := 0
	for _, loc := range c.splitter.FindAllStringIndex(content, -1) {
		if s := strings.TrimSpace(content[loc[0]:loc[1]]); s != "" {
			out = append(out, s)
		}
		consumed = loc[1]
	}
	// trailing text without terminal punctuation
	if rest := strings.TrimSpace(content[consumed:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
