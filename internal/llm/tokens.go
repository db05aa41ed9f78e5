package llm

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// TokenCounter estimates token counts with the cl100k_base encoding. When
// the encoding cannot be loaded it falls back to four characters per token.
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter returns a counter that loads its encoding on first use.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// ApproxTokenCounter never loads an encoding and always uses the
// four-characters-per-token estimate.
func ApproxTokenCounter() *TokenCounter {
	c := &TokenCounter{}
	c.once.Do(func() {})
	return c
}

func (c *TokenCounter) encoding() *tiktoken.Tiktoken {
	if c == nil {
		return nil
	}
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(defaultEncoding)
		if err == nil {
			c.enc = enc
		}
	})
	return c.enc
}

// Count returns the estimated number of tokens in s.
func (c *TokenCounter) Count(s string) int {
	if s == "" {
		return 0
	}
	if enc := c.encoding(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	return (utf8.RuneCountInString(s) + 3) / 4
}

// Truncate cuts s to at most max tokens.
func (c *TokenCounter) Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if enc := c.encoding(); enc != nil {
		toks := enc.Encode(s, nil, nil)
		if len(toks) <= max {
			return s
		}
		return enc.Decode(toks[:max])
	}
	runes := []rune(s)
	if len(runes) <= max*4 {
		return s
	}
	return string(runes[:max*4])
}
