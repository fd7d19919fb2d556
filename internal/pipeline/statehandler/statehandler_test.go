package statehandler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/raglab/ragserver/internal/types"
)

func TestPluralize_SingularUnchanged(t *testing.T) {
	assert.Equal(t, "gold", pluralize("gold", 1))
}

func TestPluralize_AddsS(t *testing.T) {
	assert.Equal(t, "arrows", pluralize("arrow", 3))
}

func TestPluralize_AlreadyPluralUnchanged(t *testing.T) {
	assert.Equal(t, "arrows", pluralize("arrows", 3))
}

func TestFormatQuantity_SelfVsOther(t *testing.T) {
	assert.Equal(t, "You have 5 gold.", formatQuantity(5, "gold", true))
	assert.Equal(t, "They have 5 gold.", formatQuantity(5, "gold", false))
}

func TestFormatInventory_EmptyMapReportsNothingTracked(t *testing.T) {
	entries := []types.StateEntry{{Kind: types.StateValueInventory, Map: map[string]float64{}}}
	assert.Contains(t, formatInventory(entries, true), "nothing tracked")
}

func TestFormatInventory_ListsItems(t *testing.T) {
	entries := []types.StateEntry{{Kind: types.StateValueInventory, Map: map[string]float64{"arrow": 3}}}
	out := formatInventory(entries, true)
	assert.Contains(t, out, "3 arrows")
}

func TestExtractItemPhrase_NoMatchReturnsEmpty(t *testing.T) {
	assert.Equal(t, "", extractItemPhrase("hello there"))
}

func TestTrimNumber_DropsTrailingZeros(t *testing.T) {
	assert.Equal(t, "5", trimNumber(5.0))
	assert.Equal(t, "5.5", trimNumber(5.5))
}
