package hotline

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts the tokens a piece of text occupies in the model context.
type TokenCounter interface {
	CountTokens(text string) int
}

// EstimateTokens estimates the token count for a given text using a Unicode-aware heuristic.
// ASCII characters (English, numbers, punctuation) are weighted at ~4 per token.
// Non-ASCII characters (Devanagari, Tamil, Kannada, Emoji, etc.) are weighted at ~1 per token.
func EstimateTokens(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}

// EstimateCounter implements TokenCounter with EstimateTokens.
type EstimateCounter struct{}

// CountTokens implements TokenCounter.
func (EstimateCounter) CountTokens(text string) int {
	return EstimateTokens(text)
}

// TiktokenCounter counts tokens with a BPE encoding. The encoding is loaded on
// first use; if it cannot be loaded the counter falls back to EstimateTokens.
type TiktokenCounter struct {
	Encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTiktokenCounter returns a counter for the named encoding, "cl100k_base" when empty.
func NewTiktokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenCounter{Encoding: encoding}
}

// CountTokens implements TokenCounter.
func (c *TiktokenCounter) CountTokens(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.Encoding)
		if err == nil {
			c.enc = enc
		}
	})
	if c.enc == nil {
		return EstimateTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}
