package embedding

import (
	"math"
	"regexp"
	"strings"
)

var (
	mentionPattern = regexp.MustCompile(`<@!?[0-9A-Za-z_-]+>|@[0-9A-Za-z_][0-9A-Za-z_-]{1,31}`)
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	controlBytes   = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

const (
	maxQueryChars = 2000
	maxChunkChars = 10000
)

// sanitize strips mentions, URLs, and control bytes, then collapses
// whitespace. Returns the cleaned text and whether it was truncated.
func sanitize(text string, isChunk bool) (string, bool) {
	s := mentionPattern.ReplaceAllString(text, "")
	s = urlPattern.ReplaceAllString(s, "")
	s = controlBytes.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	limit := maxQueryChars
	if isChunk {
		limit = maxChunkChars
	}
	truncated := false
	if len(s) > limit {
		s = s[:limit]
		truncated = true
	}
	return s, truncated
}

// l2Normalize scales vec to unit length in place, so that cosine
// similarity downstream reduces to a plain dot product.
func l2Normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] *= norm
	}
}
