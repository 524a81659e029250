package mysticeti

import (
	"github.com/hashicorp/go-hclog"
)

// DecisionCache stores verdicts that no later block can change.
// *lru.Cache[Slot, Decision] from hashicorp/golang-lru/v2 satisfies it.
type DecisionCache interface {
	Get(slot Slot) (Decision, bool)
	Add(slot Slot, decision Decision) bool
}

type options struct {
	logger hclog.Logger
	cache  DecisionCache
}

// Option configures TryDecideAll. Options never change the decisions.
type Option func(*options)

// WithLogger sends every decision and its justification to logger.
func WithLogger(logger hclog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDecisionCache reuses direct commit and skip verdicts across calls on growing
// snapshots of the same DAG.
func WithDecisionCache(cache DecisionCache) Option {
	return func(o *options) {
		o.cache = cache
	}
}

// TryDecideAll decides every proposer slot of the DAG. Slots are visited from the
// highest round down and, inside a round, from the highest leader rank down, so that
// every possible anchor is decided before the slots that rely on it.
// The returned decisions are ordered by round, then leader rank.
func TryDecideAll(dag DAG, opts ...Option) ([]Decision, error) {
	o := options{logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	highest := dag.HighestRound()
	var decisions []Decision
	for round := highest; ; round-- {
		blocks := dag.ByRound(round)
		for rank := NumAuthorities - 1; rank >= 0; rank-- {
			proposer := blockWithRank(blocks, rank)
			if proposer == nil {
				continue
			}
			decision, err := decideSlot(dag, decisions, proposer, highest, &o)
			if err != nil {
				return nil, err
			}
			o.logger.Debug("decided slot", "block", decision.Block, "round", round, "rank", rank,
				"status", decision.Status, "reason", decision.Log)
			decisions = append(decisions, decision)
		}
		if round == 0 {
			break
		}
	}

	for i, j := 0, len(decisions)-1; i < j; i, j = i+1, j-1 {
		decisions[i], decisions[j] = decisions[j], decisions[i]
	}
	return decisions, nil
}

func decideSlot(dag DAG, decided []Decision, proposer *StatementBlock, highest uint64, o *options) (Decision, error) {
	ref := proposer.Reference
	// two full rounds above the slot are needed before any pattern can show up
	if ref.Round+2 > highest {
		return Decision{Status: Undecided, Block: ref, Log: IncompleteWave{}}, nil
	}
	if o.cache != nil {
		if cached, ok := o.cache.Get(ref.Slot()); ok {
			o.logger.Trace("cached decision", "block", ref, "status", cached.Status)
			return cached, nil
		}
	}

	decision, err := TryDirectDecide(dag, proposer)
	if err != nil {
		return Decision{}, err
	}
	if decision.Status != Undecided {
		if o.cache != nil {
			o.cache.Add(ref.Slot(), decision)
		}
		return decision, nil
	}
	return TryIndirectDecide(dag, decided, proposer)
}

func blockWithRank(blocks []*StatementBlock, rank int) *StatementBlock {
	for _, b := range blocks {
		if b.Reference.LeaderRank == rank {
			return b
		}
	}
	return nil
}

// CommitOrder returns the committed blocks of the longest prefix of decisions that
// holds no undecided slot.
func CommitOrder(decisions []Decision) []BlockReference {
	var order []BlockReference
	for _, d := range decisions {
		if d.Status == Undecided {
			break
		}
		if d.Status == Commit {
			order = append(order, d.Block)
		}
	}
	return order
}
