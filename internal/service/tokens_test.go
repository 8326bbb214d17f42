package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCharTokenCounter(t *testing.T) {
	tests := []struct {
		name string
		per  int
		text string
		want int
	}{
		{name: "empty", per: 4, text: "", want: 0},
		{name: "exact", per: 4, text: "abcdefgh", want: 2},
		{name: "rounds up", per: 4, text: "abcde", want: 2},
		{name: "runes not bytes", per: 2, text: "éé", want: 1},
		{name: "default ratio", per: 0, text: "abcd", want: (4 + DefaultCharsPerToken - 1) / DefaultCharsPerToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CharTokenCounter{CharsPerToken: tt.per}.Count(tt.text))
		})
	}
}
