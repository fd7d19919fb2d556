package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleLayer_Greeting(t *testing.T) {
	a := ruleLayer("hello!", Context{})
	if assert.NotNil(t, a) {
		assert.Equal(t, IntentCasual, a.Intent)
		assert.True(t, a.IsCasual)
	}
}

func TestRuleLayer_Upload(t *testing.T) {
	a := ruleLayer("here's the file", Context{})
	if assert.NotNil(t, a) {
		assert.Equal(t, IntentUpload, a.Intent)
	}
}

func TestRuleLayer_URLFallsToRAG(t *testing.T) {
	a := ruleLayer("check this out https://example.com/doc", Context{})
	if assert.NotNil(t, a) {
		assert.Equal(t, RoutingRAG, a.Routing)
		assert.True(t, a.NeedsTools, "a URL in the message should also set needs_tools")
	}
}

func TestRuleLayer_ImageVerbSetsNeedsTools(t *testing.T) {
	a := ruleLayer("generate an image of a cat", Context{})
	if assert.NotNil(t, a) {
		assert.True(t, a.NeedsTools)
	}
}

func TestRuleLayer_PlainQuestionReturnsNil(t *testing.T) {
	a := ruleLayer("what is the capital of France", Context{})
	assert.Nil(t, a)
}

func TestParseAnalysis_AcceptsFencedJSON(t *testing.T) {
	raw := "```json\n{\"intent\":\"question\",\"routing\":\"rag\",\"confidence\":0.8}\n```"
	a, ok := parseAnalysis(raw)
	assert.True(t, ok)
	assert.Equal(t, IntentQuestion, a.Intent)
}

func TestParseAnalysis_AcceptsBareJSON(t *testing.T) {
	raw := "some preamble {\"intent\":\"casual\",\"routing\":\"chat\"} trailing"
	a, ok := parseAnalysis(raw)
	assert.True(t, ok)
	assert.Equal(t, IntentCasual, a.Intent)
}

func TestParseAnalysis_RejectsGarbage(t *testing.T) {
	_, ok := parseAnalysis("not json at all")
	assert.False(t, ok)
}

func TestAnalyze_NoChatClientFallsBackToRules(t *testing.T) {
	a := New(nil, nil)
	out, err := a.Analyze(context.Background(), "why does this happen in great detail explain", Context{})
	assert.NoError(t, err)
	assert.NotNil(t, out)
}

func TestContextHasPriorTurn(t *testing.T) {
	assert.False(t, Context{}.HasPriorTurn())
	assert.True(t, Context{PreviousQuestion: "x"}.HasPriorTurn())
}
