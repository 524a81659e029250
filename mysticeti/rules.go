package mysticeti

import (
	"sort"
)

// TryDirectDecide decides a slot from the shape of the two rounds above it.
// The skip pattern is checked before the certificate pattern.
func TryDirectDecide(dag DAG, proposer *StatementBlock) (Decision, error) {
	if edges := skipEdges(dag, proposer); len(edges) >= QuorumSize {
		return Decision{
			Status: Skip,
			Block:  proposer.Reference,
			Log:    DirectDecision{Edges: references(edges)},
		}, nil
	}
	certificates, err := FindCertificates(dag, proposer)
	if err != nil {
		return Decision{}, err
	}
	status := Undecided
	if len(certificates) >= QuorumSize {
		status = Commit
	}
	return Decision{
		Status: status,
		Block:  proposer.Reference,
		Log:    DirectDecision{Certificates: references(certificates)},
	}, nil
}

// TryIndirectDecide decides a slot through the first slot at least one wave later that
// is not skipped. Every slot of those rounds must already be in decisions.
func TryIndirectDecide(dag DAG, decisions []Decision, proposer *StatementBlock) (Decision, error) {
	anchor, ok := findAnchor(decisions, proposer.Reference.Round+WaveLength)
	if !ok {
		return Decision{Status: Undecided, Block: proposer.Reference, Log: UnableToDecide{}}, nil
	}
	if anchor.Status == Undecided {
		return Decision{
			Status: Undecided,
			Block:  proposer.Reference,
			Log:    IndirectDecision{Anchor: anchor.Block},
		}, nil
	}

	anchorBlock, err := dag.ByReference(anchor.Block)
	if err != nil {
		return Decision{}, err
	}
	linked, certificates, err := HasCertifiedLink(dag, anchorBlock, proposer)
	if err != nil {
		return Decision{}, err
	}
	status := Skip
	if linked {
		status = Commit
	}
	return Decision{
		Status: status,
		Block:  proposer.Reference,
		Log:    IndirectDecision{Anchor: anchor.Block, Certificates: references(certificates)},
	}, nil
}

// findAnchor returns the lowest (round, rank) decision at or above minRound that is
// not a skip.
func findAnchor(decisions []Decision, minRound uint64) (Decision, bool) {
	var candidates []Decision
	for _, d := range decisions {
		if d.Block.Round >= minRound {
			candidates = append(candidates, d)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return slotLess(candidates[i].Block, candidates[j].Block)
	})
	for _, d := range candidates {
		if d.Status != Skip {
			return d, true
		}
	}
	return Decision{}, false
}

func slotLess(a, b BlockReference) bool {
	if a.Round != b.Round {
		return a.Round < b.Round
	}
	return a.LeaderRank < b.LeaderRank
}
