package service

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

const tokenEncoding = "cl100k_base"

// TokenCounter estimates how many model tokens a text costs.
type TokenCounter interface {
	Count(text string) int
}

// NewTokenCounter returns a tiktoken counter. When the encoding cannot be
// loaded it falls back to a chars-per-token estimate.
func NewTokenCounter(logger *zap.Logger) TokenCounter {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		if logger != nil {
			logger.Warn("tiktoken encoding unavailable, estimating tokens from length", zap.Error(err))
		}
		return CharTokenCounter{CharsPerToken: DefaultCharsPerToken}
	}
	return &tiktokenCounter{enc: enc}
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// CharTokenCounter estimates tokens as runes divided by CharsPerToken.
type CharTokenCounter struct {
	CharsPerToken int
}

func (c CharTokenCounter) Count(text string) int {
	per := c.CharsPerToken
	if per <= 0 {
		per = DefaultCharsPerToken
	}
	n := utf8.RuneCountInString(text)
	return (n + per - 1) / per
}
