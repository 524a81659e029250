package mysticeti

import (
	"sort"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownBlock is returned when a reference does not name a block of the store.
	// Callers only look up references seen as parents, so it signals a broken DAG.
	ErrUnknownBlock     = errors.New("unknown block")
	ErrMissingParent    = errors.New("parent is not in the store")
	ErrParentRound      = errors.New("parent is not in the previous round")
	ErrEquivocation     = errors.New("slot already holds a different block")
	ErrInvalidAuthority = errors.New("authority out of range")
	ErrInvalidRank      = errors.New("leader rank out of range")
	ErrDuplicateRank    = errors.New("leader rank already taken in this round")
)

// DAG is the read-only view of the block DAG that the decision rules work on.
type DAG interface {
	// ByRound returns the blocks of a round ordered by authority.
	ByRound(round uint64) []*StatementBlock
	// ByReference returns the block in the slot of ref, or ErrUnknownBlock.
	ByReference(ref BlockReference) (*StatementBlock, error)
	// ChildrenOf returns the blocks of the next round that list block as a parent.
	ChildrenOf(block *StatementBlock) []*StatementBlock
	// HighestRound returns the highest round holding a block, 0 for an empty DAG.
	HighestRound() uint64
	// IsLink reports whether later causally references earlier.
	IsLink(earlier, later *StatementBlock) bool
}

// roundIndex maps an authority to its block in the arena, offset by one so that
// the zero value means no block.
type roundIndex [NumAuthorities]int

// BlockStore keeps the blocks in an arena indexed by round and by authority.
// It holds at most one block per slot and never a block whose parents are missing.
type BlockStore struct {
	blocks   []*StatementBlock
	children [][]int
	rounds   []roundIndex
	highest  uint64
}

var _ DAG = (*BlockStore)(nil)

func NewBlockStore() *BlockStore {
	return &BlockStore{}
}

// Add inserts a block. The parents must already be stored at the previous round.
// Adding the same block twice is a no-op.
func (s *BlockStore) Add(block StatementBlock) error {
	ref := block.Reference
	if ref.Authority < 0 || int(ref.Authority) >= NumAuthorities {
		return errors.Wrapf(ErrInvalidAuthority, "block %s", ref)
	}
	if ref.LeaderRank < 0 || ref.LeaderRank >= NumAuthorities {
		return errors.Wrapf(ErrInvalidRank, "block %s has rank %d", ref, ref.LeaderRank)
	}
	if existing := s.lookup(ref.Slot()); existing != nil {
		if sameBlock(existing, &block) {
			return nil
		}
		return errors.Wrapf(ErrEquivocation, "slot %s", ref.Slot())
	}
	for _, other := range s.ByRound(ref.Round) {
		if other.Reference.LeaderRank == ref.LeaderRank {
			return errors.Wrapf(ErrDuplicateRank, "block %s and %s share rank %d", ref, other.Reference, ref.LeaderRank)
		}
	}

	parents := make([]int, 0, len(block.Parents))
	for _, p := range block.Parents {
		if ref.Round == 0 || p.Round != ref.Round-1 {
			return errors.Wrapf(ErrParentRound, "block %s lists %s", ref, p)
		}
		idx, ok := s.index(p.Slot())
		if !ok {
			return errors.Wrapf(ErrMissingParent, "block %s lists %s", ref, p)
		}
		parents = append(parents, idx)
	}

	stored := &StatementBlock{
		Reference: ref,
		Parents:   append([]BlockReference(nil), block.Parents...),
	}
	idx := len(s.blocks)
	s.blocks = append(s.blocks, stored)
	s.children = append(s.children, nil)
	for _, p := range parents {
		if !containsIndex(s.children[p], idx) {
			s.children[p] = append(s.children[p], idx)
		}
	}
	for uint64(len(s.rounds)) <= ref.Round {
		s.rounds = append(s.rounds, roundIndex{})
	}
	s.rounds[ref.Round][ref.Authority] = idx + 1
	if ref.Round > s.highest {
		s.highest = ref.Round
	}
	return nil
}

// Contains reports whether the slot of ref holds a block.
func (s *BlockStore) Contains(ref BlockReference) bool {
	_, ok := s.index(ref.Slot())
	return ok
}

// Len returns the number of stored blocks.
func (s *BlockStore) Len() int {
	return len(s.blocks)
}

func (s *BlockStore) ByRound(round uint64) []*StatementBlock {
	if round >= uint64(len(s.rounds)) {
		return nil
	}
	var blocks []*StatementBlock
	for _, idx := range s.rounds[round] {
		if idx > 0 {
			blocks = append(blocks, s.blocks[idx-1])
		}
	}
	return blocks
}

func (s *BlockStore) ByReference(ref BlockReference) (*StatementBlock, error) {
	block := s.lookup(ref.Slot())
	if block == nil {
		return nil, errors.Wrapf(ErrUnknownBlock, "slot %s", ref.Slot())
	}
	return block, nil
}

func (s *BlockStore) ChildrenOf(block *StatementBlock) []*StatementBlock {
	idx, ok := s.index(block.Reference.Slot())
	if !ok {
		return nil
	}
	children := make([]*StatementBlock, 0, len(s.children[idx]))
	for _, c := range s.children[idx] {
		children = append(children, s.blocks[c])
	}
	sortByAuthority(children)
	return children
}

func (s *BlockStore) HighestRound() uint64 {
	return s.highest
}

// IsLink walks forward from earlier one round at a time, keeping the blocks that have
// a parent already reached, and reports whether later is reached at its own round.
func (s *BlockStore) IsLink(earlier, later *StatementBlock) bool {
	from, to := earlier.Reference, later.Reference
	if from.Round > to.Round {
		return false
	}
	var reached [NumAuthorities]bool
	reached[from.Authority] = true
	for round := from.Round + 1; round <= to.Round; round++ {
		var next [NumAuthorities]bool
		moved := false
		for _, b := range s.ByRound(round) {
			for _, p := range b.Parents {
				if reached[p.Authority] {
					next[b.Reference.Authority] = true
					moved = true
					break
				}
			}
		}
		if !moved {
			return false
		}
		reached = next
	}
	return reached[to.Authority]
}

// Blocks returns every stored block ordered by round, then authority.
func (s *BlockStore) Blocks() []*StatementBlock {
	blocks := make([]*StatementBlock, 0, len(s.blocks))
	for round := range s.rounds {
		blocks = append(blocks, s.ByRound(uint64(round))...)
	}
	return blocks
}

func (s *BlockStore) index(slot Slot) (int, bool) {
	if slot.Authority < 0 || int(slot.Authority) >= NumAuthorities || slot.Round >= uint64(len(s.rounds)) {
		return 0, false
	}
	idx := s.rounds[slot.Round][slot.Authority]
	return idx - 1, idx > 0
}

func (s *BlockStore) lookup(slot Slot) *StatementBlock {
	idx, ok := s.index(slot)
	if !ok {
		return nil
	}
	return s.blocks[idx]
}

func sameBlock(a, b *StatementBlock) bool {
	if a.Reference.LeaderRank != b.Reference.LeaderRank || len(a.Parents) != len(b.Parents) {
		return false
	}
	for _, p := range b.Parents {
		if !a.HasParent(p) {
			return false
		}
	}
	return true
}

func containsIndex(list []int, idx int) bool {
	for _, i := range list {
		if i == idx {
			return true
		}
	}
	return false
}

func sortByAuthority(blocks []*StatementBlock) {
	sort.Slice(blocks, func(i, j int) bool {
		return blocks[i].Reference.Authority < blocks[j].Reference.Authority
	})
}
