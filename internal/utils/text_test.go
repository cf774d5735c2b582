package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", TruncateRunes("short", 30, "…"))

	exact := strings.Repeat("a", 30)
	assert.Equal(t, exact, TruncateRunes(exact, 30, "…"))

	long := strings.Repeat("b", 31)
	assert.Equal(t, strings.Repeat("b", 30)+"…", TruncateRunes(long, 30, "…"))

	// Multi-byte characters count as one each.
	greek := strings.Repeat("λ", 35)
	assert.Equal(t, strings.Repeat("λ", 30)+"…", TruncateRunes(greek, 30, "…"))
}

func TestDataURL(t *testing.T) {
	assert.Equal(t, "data:image/png;base64,AQID", DataURL("image/png", []byte{1, 2, 3}))
	assert.True(t, IsImageContentType("image/jpeg"))
	assert.False(t, IsImageContentType("text/plain; charset=utf-8"))
}
