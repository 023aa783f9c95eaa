package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Hog  ", "hog"},
		{"Straße", "straße"},
		{"GROSS", "gross"},
		{"Haupt  Eingang", "haupt eingang"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Key(tt.in), "Key(%q)", tt.in)
	}
}

func TestWords(t *testing.T) {
	got := Words("Der Hund, der Hund und die Katze!")
	assert.Equal(t, []string{"der", "hund", "und", "die", "katze"}, got)
}

func TestWords_Empty(t *testing.T) {
	assert.Empty(t, Words("  ... !! "))
}
