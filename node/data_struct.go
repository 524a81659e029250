package node

// Block is the proposal of a node in a round. A block of round 1 has no parents,
// later blocks link to at least 2f+1 blocks of the previous round.
type Block struct {
	Sender       string
	Round        uint64
	PreviousHash map[string][]byte // the parents of the block, map from sender to hash
	Txs          [][]byte
	TimeStamp    int64
}

// Chain stores blocks which are committed
type Chain struct {
	round    uint64            // the max round of the leader that are committed
	blocks   map[string]*Block // map from hash to the block
	sequence []*Block          // the committed blocks in commit order
}

// Elect carries the threshold signature share that seeds the leader ranks of a round.
type Elect struct {
	Sender     string
	Round      uint64
	PartialSig []byte
}
