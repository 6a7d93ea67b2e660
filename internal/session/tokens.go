package session

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens for budget enforcement. It uses the
// cl100k_base encoding when it can be loaded and falls back to a
// character heuristic otherwise, so budget math keeps working in
// offline or stripped-down environments.
type Tokenizer struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenizer creates a tokenizer. Encoding data loads lazily on
// first use.
func NewTokenizer() *Tokenizer {
	return &Tokenizer{}
}

// Count returns the token count for text.
func (t *Tokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			t.enc = enc
		}
	})
	if t.enc != nil {
		return len(t.enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// estimateTokens approximates a token count without an encoder:
// roughly four ASCII characters per token, with non-ASCII runes
// weighted as a full token each.
func estimateTokens(text string) int {
	ascii, other := 0, 0
	for _, r := range text {
		if r < utf8.RuneSelf {
			ascii++
		} else {
			other++
		}
	}
	n := ascii/4 + other
	if n == 0 {
		n = 1
	}
	return n
}
