package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raglab/ragserver/internal/pipeline/analyzer"
)

func TestShouldSearch_ExplicitFilterAlwaysSearches(t *testing.T) {
	assert.True(t, ShouldSearch("how much gold do I have", nil, "doc-123"))
}

func TestShouldSearch_CasualNeverSearches(t *testing.T) {
	a := &analyzer.Analysis{IsCasual: true}
	assert.False(t, ShouldSearch("hey how's it going", a, ""))
}

func TestShouldSearch_StateQuerySkipsSearch(t *testing.T) {
	assert.False(t, ShouldSearch("how much gold do I have", nil, ""))
}

func TestShouldSearch_ActionSkipsSearch(t *testing.T) {
	assert.False(t, ShouldSearch("give 5 gold to bob", nil, ""))
}

func TestShouldSearch_ExplicitDocWordsSearches(t *testing.T) {
	assert.True(t, ShouldSearch("what does the attached report say about revenue", nil, ""))
}

func TestShouldSearch_DefaultSearches(t *testing.T) {
	assert.True(t, ShouldSearch("what is the capital of France", nil, ""))
}

func TestFilenameOverlap_MatchesTokens(t *testing.T) {
	q := tokenSet("quarterly revenue report")
	score := filenameOverlap(q, "Q3_revenue_report.pdf")
	assert.Greater(t, score, 0.0)
}

func TestTopicOverlap_NoTopicsIsZero(t *testing.T) {
	assert.Equal(t, 0.0, topicOverlap(tokenSet("anything"), nil))
}

func TestCosine_IdenticalVectorsIsOne(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, cosine(v, v), 1e-9)
}

func TestCosine_MismatchedLengthIsZero(t *testing.T) {
	assert.Equal(t, 0.0, cosine([]float32{1, 2}, []float32{1}))
}
