package prompt

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens estimates the prompt size. The BPE table is fetched on first
// use; without it the count falls back to EstimateTokens.
func CountTokens(s string) int {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding(encodingName)
		if err == nil {
			enc = e
		}
	})
	if enc == nil {
		return EstimateTokens(s)
	}
	return len(enc.Encode(s, nil, nil))
}

// EstimateTokens approximates four characters per token.
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}
