package trunc_test

import (
	"strings"
	"testing"

	"github.com/lyrio-dev/judge/internal/trunc"
	"github.com/stretchr/testify/assert"
)

func TestPrefix(t *testing.T) {
	s := trunc.Prefix("hello world", 5)
	assert.Equal(t, "hello", s.Data)
	assert.Equal(t, 6, s.OmittedBytes)

	s = trunc.Prefix("hello", 5)
	assert.Equal(t, "hello", s.Data)
	assert.Equal(t, 0, s.OmittedBytes)

	s = trunc.Prefix("hello", 0)
	assert.Equal(t, "hello", s.Data)
	assert.Equal(t, 0, s.OmittedBytes)
}

func TestPreview(t *testing.T) {
	// rectangle trim applies before the byte cap
	in := strings.Repeat("x", 100) + "\ny"
	s := trunc.Preview(in, 1024, 40, 80)
	assert.Equal(t, strings.Repeat("x", 80)+"[...]\ny", s.Data)
	assert.Equal(t, len(in)-len(s.Data), s.OmittedBytes)

	// then the byte cap
	s = trunc.Preview("abcdef", 3, 40, 80)
	assert.Equal(t, "abc", s.Data)
	assert.Equal(t, 3, s.OmittedBytes)

	// zero dimensions disable the rectangle
	s = trunc.Preview(in, 0, 0, 0)
	assert.Equal(t, in, s.Data)
	assert.Equal(t, 0, s.OmittedBytes)
}

func TestRect(t *testing.T) {
	assert.Equal(t, "", trunc.Rect("", 40, 80))

	in := strings.Repeat("x", 100)
	assert.Equal(t, strings.Repeat("x", 80)+"[...]", trunc.Rect(in, 40, 80))

	in = "a\nb\nc\nd"
	assert.Equal(t, "a\nb\n[...]", trunc.Rect(in, 2, 80))
}
