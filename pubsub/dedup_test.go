package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupGuardSuppressesRepeatedID(t *testing.T) {
	g := newDedupGuard()
	assert.False(t, g.seen("a"))
	assert.True(t, g.seen("a"))
	assert.False(t, g.seen("b"))
}

func TestDedupGuardTreatsEmptyIDAsNeverSeen(t *testing.T) {
	g := newDedupGuard()
	assert.False(t, g.seen(""))
	assert.False(t, g.seen(""))
}

func TestDedupGuardEvictsOldestPastCapacity(t *testing.T) {
	g := newDedupGuard()
	for i := 0; i <= dedupGuardCapacity; i++ {
		assert.False(t, g.seen(string(rune(i))))
	}
	// Capacity exceeded: the very first id should have been evicted and is
	// therefore reported as unseen again.
	assert.False(t, g.seen(string(rune(0))))
}
