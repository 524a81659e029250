package mysticeti

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

// dagBuilder builds DAGs from labels such as "L4b": round 4, authority b (1).
// Leader ranks follow the authority order unless set otherwise.
type dagBuilder struct {
	t     *testing.T
	store *BlockStore
	ranks map[uint64][]int
}

func newDAGBuilder(t *testing.T) *dagBuilder {
	return &dagBuilder{
		t:     t,
		store: NewBlockStore(),
		ranks: make(map[uint64][]int),
	}
}

// withRanks sets the leader rank of each authority for a round.
func (b *dagBuilder) withRanks(round uint64, ranks ...int) *dagBuilder {
	b.ranks[round] = ranks
	return b
}

func (b *dagBuilder) ref(label string) BlockReference {
	require.GreaterOrEqual(b.t, len(label), 3, "label %q", label)
	round, err := strconv.ParseUint(label[1:len(label)-1], 10, 64)
	require.NoError(b.t, err, "label %q", label)
	authority := Authority(label[len(label)-1] - 'a')
	rank := int(authority)
	if ranks, ok := b.ranks[round]; ok {
		rank = ranks[authority]
	}
	return BlockReference{Authority: authority, Round: round, Label: label, LeaderRank: rank}
}

func (b *dagBuilder) block(label string, parents ...string) *dagBuilder {
	block := StatementBlock{Reference: b.ref(label)}
	for _, p := range parents {
		block.Parents = append(block.Parents, b.ref(p))
	}
	require.NoError(b.t, b.store.Add(block))
	return b
}

// round adds one block per label, all with the same parents.
func (b *dagBuilder) round(labels []string, parents ...string) *dagBuilder {
	for _, l := range labels {
		b.block(l, parents...)
	}
	return b
}

func (b *dagBuilder) get(label string) *StatementBlock {
	block, err := b.store.ByReference(b.ref(label))
	require.NoError(b.t, err)
	return block
}

func labels(round int) []string {
	r := strconv.Itoa(round)
	return []string{"L" + r + "a", "L" + r + "b", "L" + r + "c", "L" + r + "d"}
}

// paperDAG is the six round DAG of the worked example of the Mysticeti paper.
// L1b is supported by half of round 2 only and L2b by half of round 3 only; nobody in
// round 5 includes L4a.
func paperDAG(t *testing.T) *dagBuilder {
	b := newDAGBuilder(t)
	b.round(labels(1))
	b.round([]string{"L2a", "L2b"}, labels(1)...)
	b.round([]string{"L2c", "L2d"}, "L1a", "L1c", "L1d")
	b.round([]string{"L3a", "L3b"}, labels(2)...)
	b.round([]string{"L3c", "L3d"}, "L2a", "L2c", "L2d")
	b.round(labels(4), labels(3)...)
	b.round(labels(5), "L4b", "L4c", "L4d")
	b.round(labels(6), labels(5)...)
	return b
}

// truncate copies the first rounds of a store.
func truncate(t *testing.T, store *BlockStore, highest uint64) *BlockStore {
	out := NewBlockStore()
	for _, block := range store.Blocks() {
		if block.Reference.Round <= highest {
			require.NoError(t, out.Add(*block))
		}
	}
	return out
}

// randomDAG builds a DAG where every authority has a block in every round from 1 to
// rounds, each including a random subset of the previous round, with random ranks.
func randomDAG(t *testing.T, seed int64, rounds int) *BlockStore {
	rng := rand.New(rand.NewSource(seed))
	store := NewBlockStore()
	var previous []BlockReference
	for round := 1; round <= rounds; round++ {
		ranks := rng.Perm(NumAuthorities)
		var current []BlockReference
		for a := 0; a < NumAuthorities; a++ {
			ref := BlockReference{
				Authority:  Authority(a),
				Round:      uint64(round),
				Label:      "R" + strconv.Itoa(round) + string(rune('a'+a)),
				LeaderRank: ranks[a],
			}
			block := StatementBlock{Reference: ref}
			for _, p := range previous {
				if rng.Intn(4) != 0 {
					block.Parents = append(block.Parents, p)
				}
			}
			require.NoError(t, store.Add(block))
			current = append(current, ref)
		}
		previous = current
	}
	return store
}
