package mysticeti

import (
	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// ErrCommitOrderDiverged is returned when a new commit order does not extend the one
// already emitted. It can only happen if the DAG handed in is not an extension of the
// previous one.
var ErrCommitOrderDiverged = errors.New("commit order diverged from emitted prefix")

const defaultCacheSize = 4096

// Committer runs the decision rules on successive snapshots of a growing DAG and emits
// each committed block exactly once, in commit order.
type Committer struct {
	logger    hclog.Logger
	cache     *lru.Cache[Slot, Decision]
	committed []BlockReference
	decisions []Decision
}

// NewCommitter creates a Committer caching up to cacheSize final verdicts.
// A non-positive cacheSize selects the default.
func NewCommitter(logger hclog.Logger, cacheSize int) (*Committer, error) {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[Slot, Decision](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Committer{
		logger: logger,
		cache:  cache,
	}, nil
}

// Update decides the slots of dag and returns the blocks committed since the last call.
func (c *Committer) Update(dag DAG) ([]BlockReference, error) {
	decisions, err := TryDecideAll(dag, WithLogger(c.logger), WithDecisionCache(c.cache))
	if err != nil {
		return nil, err
	}
	order := CommitOrder(decisions)
	if len(order) < len(c.committed) {
		return nil, errors.Wrapf(ErrCommitOrderDiverged, "order shrank from %d to %d", len(c.committed), len(order))
	}
	for i, ref := range c.committed {
		if !order[i].Equal(ref) {
			return nil, errors.Wrapf(ErrCommitOrderDiverged, "position %d holds %s, emitted %s", i, order[i], ref)
		}
	}
	fresh := append([]BlockReference(nil), order[len(c.committed):]...)
	c.committed = order
	c.decisions = decisions
	if len(fresh) > 0 {
		c.logger.Debug("new commits", "count", len(fresh), "total", len(order))
	}
	return fresh, nil
}

// Committed returns every block emitted so far.
func (c *Committer) Committed() []BlockReference {
	return c.committed
}

// Decisions returns the decisions of the last Update.
func (c *Committer) Decisions() []Decision {
	return c.decisions
}
