package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsInformationQuestion_Matches(t *testing.T) {
	assert.True(t, IsInformationQuestion("how much gold do I have"))
	assert.True(t, IsInformationQuestion("how many arrows does bob own"))
	assert.False(t, IsInformationQuestion("give bob 5 gold"))
}

func TestParse_GiveSetsSourceAndDest(t *testing.T) {
	p := Parse("give 5 gold to bob", "alice", "chan-1", "bob-id")
	assert.Equal(t, ActionGive, p.Action)
	assert.Equal(t, 5.0, p.Quantity)
	assert.Equal(t, "alice", p.SourceUserID)
	assert.Equal(t, "bob-id", p.DestUserID)
	assert.True(t, p.Executable())
}

func TestParse_MentionDigitsResolveWhenNoUpstreamMention(t *testing.T) {
	p := Parse("give 5 gold to <@12345>", "alice", "chan-1", "")
	assert.Equal(t, "12345", p.DestUserID)
}

func TestParse_UpstreamMentionPreferredOverTextMention(t *testing.T) {
	p := Parse("give 5 gold to @bobby", "alice", "chan-1", "upstream-id")
	assert.Equal(t, "upstream-id", p.DestUserID)
}

func TestParse_UnknownVerbLowConfidence(t *testing.T) {
	p := Parse("what a nice day", "alice", "chan-1", "")
	assert.False(t, p.Executable())
}

func TestParsed_ExecutableRequiresThresholdAndKnownVerb(t *testing.T) {
	p := Parsed{Action: ActionQuery, Confidence: 0.9}
	assert.False(t, p.Executable())
	p2 := Parsed{Action: ActionGive, Confidence: 0.59}
	assert.False(t, p2.Executable())
	p3 := Parsed{Action: ActionGive, Confidence: 0.6}
	assert.True(t, p3.Executable())
}
