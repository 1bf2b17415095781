// Package rag holds the retrieval-augmented generation pieces: the token
// chunker that prepares documents for embedding and the prompt composer the
// router uses at chat time.
package rag

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultChunkTokens is the chunk ceiling used for document ingestion.
const DefaultChunkTokens = 500

// Chunker splits text into non-overlapping windows of at most maxTokens
// tokens, in source order. The same encoder is used for every document, so
// chunking is deterministic.
type Chunker struct {
	enc       *tiktoken.Tiktoken
	maxTokens int
}

// NewChunker loads the cl100k_base encoding.
func NewChunker(maxTokens int) (*Chunker, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultChunkTokens
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("op=rag.NewChunker: %w", err)
	}
	return &Chunker{enc: enc, maxTokens: maxTokens}, nil
}

// Split returns the chunks of text. Empty input yields no chunks.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil
	}
	var chunks []string
	for start := 0; start < len(tokens); start += c.maxTokens {
		end := start + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, c.enc.Decode(tokens[start:end]))
	}
	return chunks
}

// CountTokens reports the token length of text under the chunker's encoder.
func (c *Chunker) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
