/*
Package mysticeti implements the commit rule of the Mysticeti-C protocol.

Given a DAG of authority blocks organized in rounds, it decides for every proposer slot
whether the slot is committed, skipped or still undecided, and derives from those
decisions a prefix-consistent commit order. Everything in this package is a pure
function of the DAG snapshot it is handed; the node that grows the DAG lives elsewhere.
*/
package mysticeti

import (
	"fmt"
)

const (
	NumAuthorities = 4
	MaxFaulty      = 1
	QuorumSize     = 2*MaxFaulty + 1
	WaveLength     = 3
)

// Authority is the index of a validator in the committee.
type Authority int

// Slot identifies a (round, authority) pair.
type Slot struct {
	Round     uint64
	Authority Authority
}

func (s Slot) String() string {
	return fmt.Sprintf("(%d, %d)", s.Round, s.Authority)
}

// BlockReference identifies a block. Label is only used for logs and tests, and
// LeaderRank is the rank given to Authority in Round by the leader schedule.
type BlockReference struct {
	Authority  Authority
	Round      uint64
	Label      string
	LeaderRank int
}

func (r BlockReference) Slot() Slot {
	return Slot{Round: r.Round, Authority: r.Authority}
}

// Equal reports whether both references name the same slot.
func (r BlockReference) Equal(other BlockReference) bool {
	return r.Round == other.Round && r.Authority == other.Authority
}

func (r BlockReference) String() string {
	if r.Label != "" {
		return r.Label
	}
	return fmt.Sprintf("B%d(%d)", r.Round, r.Authority)
}

// StatementBlock is a block together with the references to its parents in Round-1.
type StatementBlock struct {
	Reference BlockReference
	Parents   []BlockReference
}

// HasParent reports whether ref is one of the parents of the block.
func (b *StatementBlock) HasParent(ref BlockReference) bool {
	for _, p := range b.Parents {
		if p.Equal(ref) {
			return true
		}
	}
	return false
}

type Status uint8

const (
	Undecided Status = iota
	Commit
	Skip
)

func (s Status) String() string {
	switch s {
	case Commit:
		return "Commit"
	case Skip:
		return "Skip"
	default:
		return "Undecided"
	}
}

// Decision is the verdict for one proposer slot. Log explains the verdict and is
// never read by the decision rules.
type Decision struct {
	Status Status
	Block  BlockReference
	Log    Log
}

func (d Decision) String() string {
	return fmt.Sprintf("%s %s: %s", d.Status, d.Block, d.Log)
}

// Log is one of IncompleteWave, DirectDecision, IndirectDecision or UnableToDecide.
type Log interface {
	fmt.Stringer
	isLog()
}

// IncompleteWave marks slots too close to the highest round to be decided yet.
type IncompleteWave struct{}

// DirectDecision holds the certificates that committed the slot, or the next-round
// blocks (Edges) that do not support it when the slot was skipped.
type DirectDecision struct {
	Certificates []BlockReference
	Edges        []BlockReference
}

// IndirectDecision holds the anchor used and the certificates of the slot it links to.
type IndirectDecision struct {
	Anchor       BlockReference
	Certificates []BlockReference
}

// UnableToDecide marks slots with no anchor in the rounds observed so far.
type UnableToDecide struct{}

func (IncompleteWave) isLog()   {}
func (DirectDecision) isLog()   {}
func (IndirectDecision) isLog() {}
func (UnableToDecide) isLog()   {}

func (IncompleteWave) String() string { return "incomplete wave" }

func (l DirectDecision) String() string {
	if len(l.Edges) > 0 {
		return fmt.Sprintf("direct, not supported by %v", l.Edges)
	}
	return fmt.Sprintf("direct, certificates %v", l.Certificates)
}

func (l IndirectDecision) String() string {
	return fmt.Sprintf("indirect, anchor %s, certificates %v", l.Anchor, l.Certificates)
}

func (UnableToDecide) String() string { return "unable to decide" }

func references(blocks []*StatementBlock) []BlockReference {
	refs := make([]BlockReference, 0, len(blocks))
	for _, b := range blocks {
		refs = append(refs, b.Reference)
	}
	return refs
}
