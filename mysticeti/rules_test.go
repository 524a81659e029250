package mysticeti

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryDirectDecide(t *testing.T) {
	b := paperDAG(t)

	d, err := TryDirectDecide(b.store, b.get("L4a"))
	require.NoError(t, err)
	assert.Equal(t, Skip, d.Status)
	assert.Equal(t, DirectDecision{Edges: []BlockReference{b.ref("L5a"), b.ref("L5b"), b.ref("L5c"), b.ref("L5d")}}, d.Log)

	d, err = TryDirectDecide(b.store, b.get("L4b"))
	require.NoError(t, err)
	assert.Equal(t, Commit, d.Status)
	assert.Equal(t, DirectDecision{Certificates: []BlockReference{b.ref("L6a"), b.ref("L6b"), b.ref("L6c"), b.ref("L6d")}}, d.Log)

	d, err = TryDirectDecide(b.store, b.get("L1b"))
	require.NoError(t, err)
	assert.Equal(t, Undecided, d.Status)
	assert.Equal(t, b.ref("L1b"), d.Block)
}

// indirectDAG leaves L1a with a single certificate, L3a. L4a links to it, L4b does not.
func indirectDAG(t *testing.T) *dagBuilder {
	b := newDAGBuilder(t)
	b.round(labels(1))
	b.round([]string{"L2a", "L2b", "L2c"}, labels(1)...)
	b.block("L2d", "L1b", "L1c", "L1d")
	b.block("L3a", "L2a", "L2b", "L2c")
	b.block("L3b", "L2a", "L2b", "L2d")
	b.block("L3c", "L2b", "L2c", "L2d")
	b.block("L3d", "L2a", "L2c", "L2d")
	b.block("L4a", "L3a", "L3b", "L3c")
	b.block("L4b", "L3b", "L3c", "L3d")
	return b
}

func TestTryIndirectDecide(t *testing.T) {
	b := indirectDAG(t)
	proposer := b.get("L1a")

	direct, err := TryDirectDecide(b.store, proposer)
	require.NoError(t, err)
	require.Equal(t, Undecided, direct.Status)

	t.Run("anchor links to a certificate", func(t *testing.T) {
		decisions := []Decision{{Status: Commit, Block: b.ref("L4a")}}
		d, err := TryIndirectDecide(b.store, decisions, proposer)
		require.NoError(t, err)
		assert.Equal(t, Commit, d.Status)
		assert.Equal(t, IndirectDecision{Anchor: b.ref("L4a"), Certificates: []BlockReference{b.ref("L3a")}}, d.Log)
	})

	t.Run("anchor without certified link", func(t *testing.T) {
		decisions := []Decision{{Status: Commit, Block: b.ref("L4b")}}
		d, err := TryIndirectDecide(b.store, decisions, proposer)
		require.NoError(t, err)
		assert.Equal(t, Skip, d.Status)
		assert.Equal(t, IndirectDecision{Anchor: b.ref("L4b"), Certificates: []BlockReference{}}, d.Log)
	})

	t.Run("skipped slots are not anchors", func(t *testing.T) {
		decisions := []Decision{
			{Status: Commit, Block: b.ref("L4b")},
			{Status: Skip, Block: b.ref("L4a")},
		}
		d, err := TryIndirectDecide(b.store, decisions, proposer)
		require.NoError(t, err)
		assert.Equal(t, Skip, d.Status)
		assert.Equal(t, b.ref("L4b"), d.Log.(IndirectDecision).Anchor)
	})

	t.Run("lowest rank comes first", func(t *testing.T) {
		decisions := []Decision{
			{Status: Commit, Block: b.ref("L4b")},
			{Status: Commit, Block: b.ref("L4a")},
		}
		d, err := TryIndirectDecide(b.store, decisions, proposer)
		require.NoError(t, err)
		assert.Equal(t, Commit, d.Status)
	})

	t.Run("undecided anchor", func(t *testing.T) {
		decisions := []Decision{
			{Status: Undecided, Block: b.ref("L4a")},
			{Status: Commit, Block: b.ref("L4b")},
		}
		d, err := TryIndirectDecide(b.store, decisions, proposer)
		require.NoError(t, err)
		assert.Equal(t, Undecided, d.Status)
		assert.Equal(t, IndirectDecision{Anchor: b.ref("L4a")}, d.Log)
	})

	t.Run("anchors must be a wave later", func(t *testing.T) {
		decisions := []Decision{
			{Status: Commit, Block: b.ref("L3a")},
			{Status: Commit, Block: b.ref("L2a")},
		}
		d, err := TryIndirectDecide(b.store, decisions, proposer)
		require.NoError(t, err)
		assert.Equal(t, Undecided, d.Status)
		assert.Equal(t, UnableToDecide{}, d.Log)
	})

	t.Run("only skips", func(t *testing.T) {
		decisions := []Decision{
			{Status: Skip, Block: b.ref("L4a")},
			{Status: Skip, Block: b.ref("L4b")},
		}
		d, err := TryIndirectDecide(b.store, decisions, proposer)
		require.NoError(t, err)
		assert.Equal(t, UnableToDecide{}, d.Log)
	})
}

func TestUndecidedAnchorPropagates(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		store := randomDAG(t, seed, 12)
		decisions, err := TryDecideAll(store)
		require.NoError(t, err)

		bySlot := make(map[Slot]Decision, len(decisions))
		for _, d := range decisions {
			bySlot[d.Block.Slot()] = d
		}
		for _, d := range decisions {
			indirect, ok := d.Log.(IndirectDecision)
			if !ok {
				continue
			}
			anchor := bySlot[indirect.Anchor.Slot()]
			assert.NotEqual(t, Skip, anchor.Status, "seed %d: %s", seed, d)
			if anchor.Status == Undecided {
				assert.Equal(t, Undecided, d.Status, "seed %d: %s", seed, d)
			}
		}
	}
}
