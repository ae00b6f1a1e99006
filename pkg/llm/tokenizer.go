package llm

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer converts text to model tokens and back.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// BPETokenizer is a tiktoken byte-pair encoder. Its counts approximate the
// serving model's own tokenizer closely enough for context budgeting.
type BPETokenizer struct {
	enc *tiktoken.Tiktoken
}

func NewBPETokenizer(encoding string) (*BPETokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", encoding, err)
	}
	return &BPETokenizer{enc: enc}, nil
}

func (t *BPETokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *BPETokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// RuneTokenizer counts one token per rune. BPE encodings average several
// characters per token, so its counts run high and budget checks trip early.
// It needs no vocabulary file.
type RuneTokenizer struct{}

func (RuneTokenizer) Encode(text string) []int {
	runes := []rune(text)
	out := make([]int, len(runes))
	for i, r := range runes {
		out[i] = int(r)
	}
	return out
}

func (RuneTokenizer) Decode(tokens []int) string {
	runes := make([]rune, len(tokens))
	for i, t := range tokens {
		runes[i] = rune(t)
	}
	return string(runes)
}

// CountTokens is len(tok.Encode(text)).
func CountTokens(tok Tokenizer, text string) int {
	return len(tok.Encode(text))
}

// Chunk splits text into consecutive pieces of at most size tokens. Boundaries
// are purely token-count based; the last chunk may be shorter.
func Chunk(tok Tokenizer, text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	tokens := tok.Encode(text)
	chunks := make([]string, 0, (len(tokens)+size-1)/size)
	for i := 0; i < len(tokens); i += size {
		end := min(i+size, len(tokens))
		chunks = append(chunks, tok.Decode(tokens[i:end]))
	}
	return chunks
}
