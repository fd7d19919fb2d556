package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitAt_RoundTrips(t *testing.T) {
	u, k := splitAt("alice\x00gold")
	assert.Equal(t, "alice", u)
	assert.Equal(t, "gold", k)
}

func TestCanonicalLocks_OrderIndependent(t *testing.T) {
	l := &Ledger{}
	a1, b1 := canonicalLocks(l, "alice", "gold", "bob", "gold")
	a2, b2 := canonicalLocks(l, "bob", "gold", "alice", "gold")
	assert.Same(t, a1, a2)
	assert.Same(t, b1, b2)
}

func TestFnv32_IsDeterministic(t *testing.T) {
	assert.Equal(t, fnv32("alice\x00gold"), fnv32("alice\x00gold"))
}

func TestEncodeDecodeMap_RoundTrips(t *testing.T) {
	m := map[string]float64{"gold": 3, "arrows": 12}
	encoded, err := encodeMap(m)
	assert.NoError(t, err)

	var out map[string]float64
	err = decodeMap(encoded, &out)
	assert.NoError(t, err)
	assert.Equal(t, m, out)
}
