package embedding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize_StripsMentionsURLsAndControlBytes(t *testing.T) {
	input := "hey <@123> check https://example.com/x\x00\x01 now   please"
	cleaned, truncated := sanitize(input, false)
	assert.False(t, truncated)
	assert.NotContains(t, cleaned, "<@123>")
	assert.NotContains(t, cleaned, "https://")
	assert.NotContains(t, cleaned, "\x00")
	assert.Equal(t, "hey check now please", cleaned)
}

func TestSanitize_TruncatesQueryAt2000(t *testing.T) {
	input := strings.Repeat("a", 3000)
	cleaned, truncated := sanitize(input, false)
	assert.True(t, truncated)
	assert.Len(t, cleaned, maxQueryChars)
}

func TestSanitize_TruncatesChunkAt10000(t *testing.T) {
	input := strings.Repeat("b", 12000)
	cleaned, truncated := sanitize(input, true)
	assert.True(t, truncated)
	assert.Len(t, cleaned, maxChunkChars)
}

func TestL2Normalize_UnitLength(t *testing.T) {
	vec := []float32{3, 4}
	l2Normalize(vec)
	assert.InDelta(t, 1.0, float64(vec[0]*vec[0]+vec[1]*vec[1]), 1e-5)
}

func TestL2Normalize_ZeroVectorUnchanged(t *testing.T) {
	vec := []float32{0, 0, 0}
	l2Normalize(vec)
	assert.Equal(t, []float32{0, 0, 0}, vec)
}
