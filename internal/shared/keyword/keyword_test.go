package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "what is xg", Normalize("  What   is... xG?! "))
	assert.Equal(t, "", Normalize("?!"))
	assert.Equal(t, "équipe 2", Normalize("Équipe-2"))
}

func TestText_Has(t *testing.T) {
	text := Parse("Can you EXPLAIN what-is expected goals? Run it.")
	tests := []struct {
		phrase string
		want   bool
	}{
		{"explain", true},
		{"what is", true},
		{"run", true},
		{"goals", true},
		{"goal", false},
		{"xplain", false},
		{"", false},
		{"  ", false},
	}
	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			assert.Equal(t, tt.want, text.Has(tt.phrase))
		})
	}
	assert.False(t, Parse("rerunning").Has("run"))
	assert.True(t, Parse("").Empty())
}
