package chunker

import (
	"unicode/utf8"

	"github.com/phuslu/log"
	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens with the cl100k_base encoding. When the
// encoding cannot be loaded it falls back to the ~4 characters per token
// estimate, so chunking never depends on the tokenizer being available.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTokenCounter() *TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		log.Warn().Err(err).Msg("tiktoken encoding unavailable, using character estimate")
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

func (t *TokenCounter) Count(s string) int {
	if s == "" {
		return 0
	}
	if t == nil || t.enc == nil {
		return (utf8.RuneCountInString(s) + 3) / 4
	}
	return len(t.enc.Encode(s, nil, nil))
}
