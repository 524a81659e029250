/*
Package node runs one authority of the uncertified DAG: it proposes a block per round,
grows its local DAG from the blocks of its peers and feeds the DAG to the Mysticeti
commit rule to extract the committed sequence.
*/
package node

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"math"
	"math/rand"
	"os"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gitzhang10/mysticeti/config"
	"github.com/gitzhang10/mysticeti/conn"
	"github.com/gitzhang10/mysticeti/mysticeti"
	"github.com/gitzhang10/mysticeti/sign"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"go.dedis.ch/kyber/v3/share"
	"golang.org/x/sync/errgroup"
)

var (
	errUnknownSender = errors.New("sender is not in the cluster")
	errBadParents    = errors.New("block does not link to a quorum of the previous round")
	errParentHash    = errors.New("parent hash does not match the stored block")
)

type Node struct {
	name          string
	lock          sync.Mutex
	dag           map[uint64]map[string]*Block // map from round to sender to block
	hashes        map[uint64]map[string][]byte // map from round to sender to block hash
	pendingBlocks map[uint64]map[string]*Block
	store         *mysticeti.BlockStore
	committer     *mysticeti.Committer
	schedule      LeaderSchedule
	chain         *Chain
	leaders       []mysticeti.BlockReference // the committed leaders in commit order
	round         uint64                     // current round
	logger        hclog.Logger

	nodeNum   int
	quorumNum int

	clusterAddr          map[string]string // map from name to address
	clusterPort          map[string]int    // map from name to p2pPort
	clusterAddrWithPorts map[string]uint8  // map from addr:port to index
	isFaulty             bool              // true indicate this node is faulty node

	maxPool     int
	trans       *conn.NetworkTransport
	batchSize   int
	roundNumber uint64 // the number of rounds the protocol will run
	rng         *rand.Rand

	//Used for ED25519 signature
	publicKeyMap map[string]ed25519.PublicKey
	privateKey   ed25519.PrivateKey

	//Used for threshold signature
	tsPublicKey  *share.PubPoly
	tsPrivateKey *share.PriShare

	reflectedTypesMap map[uint8]reflect.Type

	nextRound chan uint64 // inform that the protocol can enter to next round

	evaluation []int64 // store the latency of every blocks
	commitTime []int64 // the time that the leader is committed
	drainTime  time.Duration

	metrics     *metrics
	metricsAddr string
	trace       *mysticeti.Trace
	traceFile   string
}

func NewNode(conf *config.Config) (*Node, error) {
	var n Node
	n.name = conf.Name
	n.dag = make(map[uint64]map[string]*Block)
	n.hashes = make(map[uint64]map[string][]byte)
	n.pendingBlocks = make(map[uint64]map[string]*Block)
	n.store = mysticeti.NewBlockStore()
	n.chain = &Chain{
		round:  0,
		blocks: make(map[string]*Block),
	}
	n.round = 1
	n.logger = hclog.New(&hclog.LoggerOptions{
		Name:   "mysticeti-node",
		Output: hclog.DefaultOutput,
		Level:  hclog.Level(conf.LogLevel),
	}).With("node", conf.Name)

	n.clusterAddr = conf.ClusterAddr
	n.clusterPort = conf.ClusterPort
	n.clusterAddrWithPorts = conf.ClusterAddrWithPorts
	n.nodeNum = len(n.clusterAddr)
	n.quorumNum = int(math.Ceil(float64(2*n.nodeNum) / 3.0))
	n.isFaulty = conf.IsFaulty
	n.maxPool = conf.MaxPool
	n.batchSize = conf.BatchSize
	n.roundNumber = uint64(conf.Round)
	n.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	n.publicKeyMap = conf.PublicKeyMap
	n.privateKey = conf.PrivateKey
	n.tsPrivateKey = conf.TsPrivateKey
	n.tsPublicKey = conf.TsPublicKey
	n.reflectedTypesMap = reflectedTypesMap

	var err error
	if n.schedule, err = newLeaderSchedule(conf, n.quorumNum, n.nodeNum); err != nil {
		return nil, err
	}
	if n.committer, err = mysticeti.NewCommitter(n.logger.Named("committer"), 0); err != nil {
		return nil, err
	}

	// every round is announced once
	n.nextRound = make(chan uint64, n.roundNumber+1)
	n.drainTime = 5 * time.Second
	n.metrics = newMetrics(conf.Name)
	n.metricsAddr = conf.MetricsAddr
	if conf.TraceFile != "" {
		n.trace = &mysticeti.Trace{}
		n.traceFile = conf.TraceFile
	}
	return &n, nil
}

// Run starts the protocol and handles the msgs of the peers until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.HandleMsgLoop(ctx)
	})
	g.Go(func() error {
		return n.RunLoop(ctx)
	})
	if n.metricsAddr != "" {
		g.Go(func() error {
			return n.metrics.serve(ctx, n.metricsAddr)
		})
	}
	return g.Wait()
}

// RunLoop proposes a block in every round up to the target one, then reports the
// latency and throughput of the run.
func (n *Node) RunLoop(ctx context.Context) error {
	currentRound := uint64(1)
	start := time.Now().UnixNano()
	for currentRound <= n.roundNumber {
		if _, ok := n.schedule.(*coinSchedule); ok {
			if err := n.broadcastElect(currentRound); err != nil {
				n.logger.Warn("fail to broadcast the elect msg", "round", currentRound, "error", err)
			}
		}
		if err := n.broadcastBlock(currentRound); err != nil {
			n.logger.Warn("fail to broadcast the block", "round", currentRound, "error", err)
		}
		select {
		case currentRound = <-n.nextRound:
		case <-ctx.Done():
			return n.writeTrace()
		}
	}
	// wait all blocks are committed
	select {
	case <-time.After(n.drainTime):
	case <-ctx.Done():
	}
	n.report(start)
	return n.writeTrace()
}

func (n *Node) report(start int64) {
	n.lock.Lock()
	defer n.lock.Unlock()
	blockNum := len(n.evaluation)
	if blockNum == 0 || len(n.commitTime) == 0 {
		n.logger.Info("no block is committed", "round", n.round)
		return
	}
	end := n.commitTime[len(n.commitTime)-1]
	pastTime := float64(end-start) / 1e9
	throughPut := float64(blockNum*n.batchSize) / pastTime
	totalTime := int64(0)
	for _, t := range n.evaluation {
		totalTime += t
	}
	latency := float64(totalTime) / 1e9 / float64(blockNum)

	n.logger.Info("the average", "latency", latency, "throughput", throughPut)
	n.logger.Info("the total commit", "block number", blockNum, "leader number", len(n.leaders), "time", pastTime)
}

func (n *Node) writeTrace() error {
	if n.trace == nil {
		return nil
	}
	n.lock.Lock()
	n.trace.Append(mysticeti.NewTraceState(n.store.Blocks(), n.committer.Decisions()))
	n.lock.Unlock()

	f, err := os.Create(n.traceFile)
	if err != nil {
		return errors.Wrap(err, "create trace file")
	}
	defer f.Close()
	return errors.Wrap(n.trace.Encode(f), "write trace file")
}

// select all blocks in last round
func (n *Node) selectPreviousBlocks(round uint64) map[string][]byte {
	n.lock.Lock()
	defer n.lock.Unlock()
	if round == 0 {
		return nil
	}
	previousHash := make(map[string][]byte, len(n.hashes[round]))
	for sender, hash := range n.hashes[round] {
		previousHash[sender] = hash
	}
	return previousHash
}

func (n *Node) storePendingBlocks(block *Block) {
	if _, ok := n.pendingBlocks[block.Round]; !ok {
		n.pendingBlocks[block.Round] = make(map[string]*Block)
	}
	n.pendingBlocks[block.Round][block.Sender] = block
}

// checkBlock rejects blocks that can never enter the DAG.
func (n *Node) checkBlock(block *Block) error {
	if _, err := n.authority(block.Sender); err != nil {
		return err
	}
	if block.Round == 0 {
		return errors.Errorf("block of %s has round 0", block.Sender)
	}
	if block.Round == 1 {
		if len(block.PreviousHash) != 0 {
			return errors.Wrapf(errBadParents, "block of %s in round 1 has parents", block.Sender)
		}
		return nil
	}
	if len(block.PreviousHash) < n.quorumNum {
		return errors.Wrapf(errBadParents, "block of %s in round %d has %d parents",
			block.Sender, block.Round, len(block.PreviousHash))
	}
	for sender := range block.PreviousHash {
		if _, err := n.authority(sender); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) authority(name string) (mysticeti.Authority, error) {
	if _, ok := n.publicKeyMap[name]; !ok {
		return 0, errors.Wrap(errUnknownSender, name)
	}
	id, err := config.NodeIndex(name)
	if err != nil {
		return 0, err
	}
	if id < 0 || id >= mysticeti.NumAuthorities {
		return 0, errors.Wrap(errUnknownSender, name)
	}
	return mysticeti.Authority(id), nil
}

func (n *Node) tryToUpdateDAG(block *Block) {
	if err := n.checkBlock(block); err != nil {
		n.logger.Warn("drop the block", "round", block.Round, "sender", block.Sender, "error", err)
		return
	}
	if _, ok := n.dag[block.Round][block.Sender]; ok {
		hash, err := block.getHash()
		if err == nil && !bytes.Equal(hash, n.hashes[block.Round][block.Sender]) {
			n.logger.Error("two blocks for one slot", "round", block.Round, "sender", block.Sender)
		}
		return
	}
	ready, err := n.checkWhetherCanAddToDAG(block)
	if err != nil {
		n.logger.Warn("drop the block", "round", block.Round, "sender", block.Sender, "error", err)
		return
	}
	if !ready {
		n.storePendingBlocks(block)
		n.metrics.blocksPending.Set(float64(n.pendingCount()))
		return
	}
	if err := n.addToDAG(block); err != nil {
		n.logger.Error("fail to add the block to the DAG", "round", block.Round, "sender", block.Sender, "error", err)
		return
	}
	n.tryToUpdateDAGFromPending()
	n.tryToNextRound()
	n.tryToCommitLeader()
}

// tryToUpdateDAGFromPending moves every pending block whose parents and ranks became
// available into the DAG, lowest round first, until no more block can move.
func (n *Node) tryToUpdateDAGFromPending() {
	for progress := true; progress; {
		progress = false
		rounds := make([]uint64, 0, len(n.pendingBlocks))
		for round := range n.pendingBlocks {
			rounds = append(rounds, round)
		}
		sort.Slice(rounds, func(i, j int) bool { return rounds[i] < rounds[j] })

		for _, round := range rounds {
			for sender, block := range n.pendingBlocks[round] {
				ready, err := n.checkWhetherCanAddToDAG(block)
				if err != nil {
					n.logger.Warn("drop the pending block", "round", round, "sender", sender, "error", err)
					delete(n.pendingBlocks[round], sender)
					continue
				}
				if !ready {
					continue
				}
				delete(n.pendingBlocks[round], sender)
				if err := n.addToDAG(block); err != nil {
					n.logger.Error("fail to add the block to the DAG", "round", round, "sender", sender, "error", err)
					continue
				}
				progress = true
			}
			if len(n.pendingBlocks[round]) == 0 {
				delete(n.pendingBlocks, round)
			}
		}
	}
	n.metrics.blocksPending.Set(float64(n.pendingCount()))
}

func (n *Node) pendingCount() int {
	count := 0
	for _, blocks := range n.pendingBlocks {
		count += len(blocks)
	}
	return count
}

// checkWhetherCanAddToDAG reports whether the parents of the block are all in the DAG
// and the leader ranks of its round are known. A parent stored under another hash
// makes the block invalid.
func (n *Node) checkWhetherCanAddToDAG(block *Block) (bool, error) {
	if _, ok := n.schedule.Ranks(block.Round); !ok {
		return false, nil
	}
	for sender, hash := range block.PreviousHash {
		stored, ok := n.hashes[block.Round-1][sender]
		if !ok {
			return false, nil
		}
		if !bytes.Equal(stored, hash) {
			return false, errors.Wrapf(errParentHash, "parent of %s in round %d", sender, block.Round-1)
		}
	}
	return true, nil
}

func (n *Node) addToDAG(block *Block) error {
	authority, err := n.authority(block.Sender)
	if err != nil {
		return err
	}
	ranks, _ := n.schedule.Ranks(block.Round)
	hash, err := block.getHash()
	if err != nil {
		return err
	}

	parents := make([]mysticeti.BlockReference, 0, len(block.PreviousHash))
	for sender := range block.PreviousHash {
		a, err := n.authority(sender)
		if err != nil {
			return err
		}
		parent, err := n.store.ByReference(mysticeti.BlockReference{Authority: a, Round: block.Round - 1})
		if err != nil {
			return err
		}
		parents = append(parents, parent.Reference)
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i].Authority < parents[j].Authority })

	err = n.store.Add(mysticeti.StatementBlock{
		Reference: mysticeti.BlockReference{
			Authority:  authority,
			Round:      block.Round,
			Label:      block.Sender + "-r" + strconv.FormatUint(block.Round, 10),
			LeaderRank: ranks[authority],
		},
		Parents: parents,
	})
	if err != nil {
		return err
	}

	if _, ok := n.dag[block.Round]; !ok {
		n.dag[block.Round] = make(map[string]*Block)
		n.hashes[block.Round] = make(map[string][]byte)
	}
	n.dag[block.Round][block.Sender] = block
	n.hashes[block.Round][block.Sender] = hash
	n.metrics.blocksReceived.Inc()
	n.logger.Trace("block is added to the DAG", "round", block.Round, "sender", block.Sender)
	return nil
}

func (n *Node) tryToNextRound() {
	for n.round <= n.roundNumber && len(n.dag[n.round]) >= n.quorumNum {
		n.round++
		n.metrics.round.Set(float64(n.round))
		n.nextRound <- n.round
	}
}

// tryToCommitLeader runs the commit rule on the DAG and commits the new leaders.
func (n *Node) tryToCommitLeader() {
	fresh, err := n.committer.Update(n.store)
	if err != nil {
		n.logger.Error("fail to update the commit order", "error", err)
		return
	}
	n.metrics.observeDecisions(n.committer.Decisions())
	for _, leader := range fresh {
		n.commitLeader(leader)
	}
	if len(fresh) > 0 && n.trace != nil {
		n.trace.Append(mysticeti.NewTraceState(n.store.Blocks(), n.committer.Decisions()))
	}
}

func (n *Node) commitLeader(leader mysticeti.BlockReference) {
	sender := "node" + strconv.Itoa(int(leader.Authority))
	block, ok := n.dag[leader.Round][sender]
	if !ok {
		n.logger.Error("committed leader is not in the DAG", "leader", leader)
		return
	}
	n.commitAncestorBlocks(block)
	n.chain.round = leader.Round
	n.leaders = append(n.leaders, leader)
	n.logger.Info("commit the leader block", "round", leader.Round, "block-proposer", block.Sender,
		"rank", leader.LeaderRank)
	n.commitTime = append(n.commitTime, time.Now().UnixNano())
}

// commitAncestorBlocks commits the leader together with its uncommitted causal history,
// ordered by round, then sender.
func (n *Node) commitAncestorBlocks(leader *Block) {
	var history []*Block
	visited := make(map[string]bool)
	frontier := []*Block{leader}
	for len(frontier) > 0 {
		var next []*Block
		for _, b := range frontier {
			hash := hex.EncodeToString(n.hashes[b.Round][b.Sender])
			if visited[hash] {
				continue
			}
			visited[hash] = true
			if _, ok := n.chain.blocks[hash]; ok {
				continue
			}
			history = append(history, b)
			for sender := range b.PreviousHash {
				next = append(next, n.dag[b.Round-1][sender])
			}
		}
		frontier = next
	}
	sort.Slice(history, func(i, j int) bool {
		if history[i].Round != history[j].Round {
			return history[i].Round < history[j].Round
		}
		return history[i].Sender < history[j].Sender
	})

	commitTime := time.Now().UnixNano()
	for _, b := range history {
		n.chain.blocks[hex.EncodeToString(n.hashes[b.Round][b.Sender])] = b
		n.chain.sequence = append(n.chain.sequence, b)
		latency := commitTime - b.TimeStamp
		n.evaluation = append(n.evaluation, latency)
		n.metrics.committedBlocks.Inc()
		n.metrics.commitLatency.Observe(float64(latency) / 1e9)
	}
}

func (n *Node) NewBlock(round uint64, previousHash map[string][]byte) *Block {
	var batch [][]byte
	if n.batchSize > 0 {
		tx := generateTX(n.rng, 250)
		for i := 0; i < n.batchSize; i++ {
			batch = append(batch, tx)
		}
	}
	timestamp := time.Now().UnixNano()
	return &Block{
		Sender:       n.name,
		Round:        round,
		PreviousHash: previousHash,
		Txs:          batch,
		TimeStamp:    timestamp,
	}
}

func (n *Node) verifySigED25519(peer string, data interface{}, sig []byte) bool {
	pubKey, ok := n.publicKeyMap[peer]
	if !ok {
		n.logger.Error("node is unknown", "node", peer)
		return false
	}
	dataAsBytes, err := encode(data)
	if err != nil {
		n.logger.Error("fail to encode the data", "error", err)
		return false
	}
	ok, err = sign.VerifySignEd25519(pubKey, dataAsBytes, sig)
	if err != nil {
		n.logger.Error("fail to verify the ED25519 signature", "error", err)
		return false
	}
	return ok
}

// CommittedLeaders returns the leaders committed so far, in commit order.
func (n *Node) CommittedLeaders() []mysticeti.BlockReference {
	n.lock.Lock()
	defer n.lock.Unlock()
	return append([]mysticeti.BlockReference(nil), n.leaders...)
}

// CommittedBlocks returns the number of blocks in the committed sequence.
func (n *Node) CommittedBlocks() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return len(n.chain.sequence)
}

// Round returns the round the node currently proposes in.
func (n *Node) Round() uint64 {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.round
}

func (n *Node) IsFaultyNode() bool {
	return n.isFaulty
}
