package chunker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentenceChunker_Overlap(t *testing.T) {
	c := NewSentenceChunker(2, 1)
	chunks := c.Chunk("doc", "One. Two! Three? Four.")

	require.Len(t, chunks, 3)
	assert.Equal(t, "One. Two!", chunks[0].Text)
	assert.Equal(t, "Two! Three?", chunks[1].Text)
	assert.Equal(t, "Three? Four.", chunks[2].Text)
	assert.Equal(t, "doc:2", chunks[2].ID)
	assert.Equal(t, 2, chunks[2].Index)
}

func TestSentenceChunker_KeepsTrailingText(t *testing.T) {
	c := NewSentenceChunker(5, 0)
	chunks := c.Chunk("doc", "First sentence. no terminal punctuation here")

	require.Len(t, chunks, 1)
	assert.Equal(t, "First sentence. no terminal punctuation here", chunks[0].Text)
}

func TestSentenceChunker_Empty(t *testing.T) {
	assert.Nil(t, NewSentenceChunker(3, 1).Chunk("doc", "   \n "))
}

func TestSentenceChunker_ClampsOverlap(t *testing.T) {
	c := NewSentenceChunker(2, 5)
	chunks := c.Chunk("doc", "A. B. C. D.")

	require.Len(t, chunks, 3)
	assert.Equal(t, "C. D.", chunks[2].Text)
}
