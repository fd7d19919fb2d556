package items

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleNormalize_CollapsesCurrencySynonyms(t *testing.T) {
	for _, raw := range []string{"gold", "gp", "coin", "coins"} {
		n := ruleNormalize(raw)
		assert.Equal(t, "gold", n.CanonicalName, raw)
		assert.Equal(t, "currency", string(n.ItemType), raw)
	}
}

func TestRuleNormalize_StripsTrailingPlural(t *testing.T) {
	n := ruleNormalize("arrows")
	assert.Equal(t, "arrow", n.CanonicalName)
	assert.Equal(t, "misc", string(n.ItemType))
}

func TestRuleNormalize_EmptyFallsBackToItem(t *testing.T) {
	n := ruleNormalize("   ")
	assert.Equal(t, "item", n.CanonicalName)
}

func TestNormalize_NoChatClientUsesRuleFallback(t *testing.T) {
	tr := New(nil, nil, nil)
	n, err := tr.Normalize(nil, "gp")
	assert.NoError(t, err)
	assert.Equal(t, "gold", n.CanonicalName)
}
