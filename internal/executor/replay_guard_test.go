package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReplayGuard_Seen(t *testing.T) {
	g := NewReplayGuard(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return now }

	assert.False(t, g.Seen("a"))
	assert.True(t, g.Seen("a"))
	assert.False(t, g.Seen("b"))
	assert.False(t, g.Seen(""))
	assert.False(t, g.Seen(""))

	now = now.Add(2 * time.Minute)
	assert.False(t, g.Seen("a"), "expired IDs are admitted again")
}

func TestReplayGuard_Cleanup(t *testing.T) {
	g := NewReplayGuard(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return now }

	g.Seen("a")
	now = now.Add(30 * time.Second)
	g.Seen("b")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, g.Cleanup())
	assert.Equal(t, 1, g.Len())
}
