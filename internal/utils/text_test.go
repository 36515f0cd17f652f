package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "short message used verbatim",
			content: "hello there",
			want:    "hello there",
		},
		{
			name:    "caps at six words",
			content: "plan a two week trip across Japan by rail",
			want:    "plan a two week trip across",
		},
		{
			name:    "strips markdown markup",
			content: "# Plan my *trip* to [Kyoto](x) next spring",
			want:    "Plan my trip to Kyotox next",
		},
		{
			name:    "collapses whitespace runs",
			content: "  what   is\n\ta monad  ",
			want:    "what is a monad",
		},
		{
			name:    "caps at forty runes",
			content: "unverwechselbare Donaudampfschifffahrtsgesellschaften sind selten",
			want:    "unverwechselbare Donaudampfschifffahrtsg",
		},
		{
			name:    "empty content falls back",
			content: "",
			want:    "New Chat",
		},
		{
			name:    "all-markup content falls back",
			content: "### *** ```",
			want:    "New Chat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTitle(tt.content, "New Chat"))
		})
	}
}
