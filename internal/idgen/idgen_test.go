package idgen

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBase36(t *testing.T) {
	assert.Equal(t, "000", EncodeBase36([]byte{0}, 3))
	assert.Equal(t, "001", EncodeBase36([]byte{1}, 3))
	assert.Equal(t, "00z", EncodeBase36([]byte{35}, 3))
	assert.Equal(t, "010", EncodeBase36([]byte{36}, 3))
	assert.Len(t, EncodeBase36([]byte{0xff, 0xff, 0xff, 0xff}, 6), 6)
}

func TestGenerateHashIDDeterministic(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)

	a := GenerateHashID("bd", "title", "desc", "alice", ts, 0, "ws", 6)
	b := GenerateHashID("bd", "title", "desc", "alice", ts, 0, "ws", 6)
	assert.Equal(t, a, b)
	assert.Regexp(t, `^bd-[0-9a-z]{6}$`, a)

	// Nonce, workspace, and timestamp all perturb the hash
	assert.NotEqual(t, a, GenerateHashID("bd", "title", "desc", "alice", ts, 1, "ws", 6))
	assert.NotEqual(t, a, GenerateHashID("bd", "title", "desc", "alice", ts, 0, "other", 6))
	assert.NotEqual(t, a, GenerateHashID("bd", "title", "desc", "alice", ts.Add(time.Nanosecond), 0, "ws", 6))
}

func TestCollisionProbability(t *testing.T) {
	p, err := CollisionProbability(0, 3)
	require.NoError(t, err)
	assert.Zero(t, p)

	p, err = CollisionProbability(1000, 4)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0*1000.0/(2*math.Pow(36, 4)), p, 1e-9)

	_, err = CollisionProbability(10, 0)
	assert.Error(t, err)
}

func TestAdaptiveLength(t *testing.T) {
	// Small stores sit at the minimum
	assert.Equal(t, 3, AdaptiveLength(0, 3, 8, 0.25))
	assert.Equal(t, 3, AdaptiveLength(100, 3, 8, 0.25))

	// The chosen length always satisfies the birthday bound
	// L >= ceil(log36(N^2 / 2p))
	for _, n := range []int{1000, 10000, 100000} {
		length := AdaptiveLength(n, 3, 8, 0.25)
		want := int(math.Ceil(math.Log(float64(n)*float64(n)/(2*0.25)) / math.Log(36)))
		assert.GreaterOrEqual(t, length, want, "n=%d", n)

		p, err := CollisionProbability(n, length)
		require.NoError(t, err)
		assert.LessOrEqual(t, p, 0.25, "n=%d length=%d", n, length)
	}

	// 10,000 issues at p=0.25 needs at least 6 chars
	assert.GreaterOrEqual(t, AdaptiveLength(10000, 3, 8, 0.25), 6)

	// Saturates at the maximum when nothing satisfies the bound
	assert.Equal(t, 4, AdaptiveLength(100000000, 3, 4, 0.25))
}

func TestHierarchyParsing(t *testing.T) {
	isChild, parent := IsHierarchicalID("bd-abc")
	assert.False(t, isChild)
	assert.Empty(t, parent)

	isChild, parent = IsHierarchicalID("bd-abc.1")
	assert.True(t, isChild)
	assert.Equal(t, "bd-abc", parent)

	isChild, parent = IsHierarchicalID("bd-abc.1.2")
	assert.True(t, isChild)
	assert.Equal(t, "bd-abc.1", parent)

	// Dots in the prefix don't create hierarchy: only a purely numeric
	// suffix after the LAST dot counts
	isChild, parent = IsHierarchicalID("web.app-x1")
	assert.False(t, isChild)

	isChild, parent = IsHierarchicalID("web.app-x1.2")
	assert.True(t, isChild)
	assert.Equal(t, "web.app-x1", parent)
}

func TestDepthAndRoot(t *testing.T) {
	assert.Equal(t, 0, Depth("bd-abc"))
	assert.Equal(t, 1, Depth("bd-abc.1"))
	assert.Equal(t, 3, Depth("bd-abc.1.2.3"))
	assert.Equal(t, "bd-abc", RootID("bd-abc.1.2.3"))
	assert.Equal(t, "bd-abc.7", ChildID("bd-abc", 7))
}
