package node

import (
	"context"
	"crypto/ed25519"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gitzhang10/mysticeti/config"
	"github.com/gitzhang10/mysticeti/mysticeti"
	"github.com/gitzhang10/mysticeti/sign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var names = []string{"node0", "node1", "node2", "node3"}

// freePorts asks the kernel for n ports that are free right now.
func freePorts(t *testing.T, n int) []int {
	t.Helper()
	ports := make([]int, n)
	for i := range ports {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		ports[i] = l.Addr().(*net.TCPAddr).Port
		require.NoError(t, l.Close())
	}
	return ports
}

func setupConfigs(t *testing.T, schedule string, round int) []*config.Config {
	t.Helper()
	ports := freePorts(t, 4)
	clusterAddr := make(map[string]string)
	clusterPort := make(map[string]int)
	clusterAddrWithPorts := make(map[string]uint8)
	for i, name := range names {
		clusterAddr[name] = "127.0.0.1"
		clusterPort[name] = ports[i]
		clusterAddrWithPorts["127.0.0.1:"+strconv.Itoa(ports[i])] = uint8(i)
	}

	// create the ED25519 keys
	privKeys := make([]ed25519.PrivateKey, 4)
	pubKeyMap := make(map[string]ed25519.PublicKey)
	for i, name := range names {
		var pub ed25519.PublicKey
		privKeys[i], pub = sign.GenED25519Keys()
		pubKeyMap[name] = pub
	}

	// create the threshold keys
	shares, pubPoly := sign.GenTSKeys(3, 4)

	confs := make([]*config.Config, 4)
	for i, name := range names {
		confs[i] = config.New(name, 10, clusterAddr, clusterPort, clusterAddrWithPorts, pubKeyMap, privKeys[i],
			pubPoly, shares[i], 4, false, 2, round, schedule)
		require.NoError(t, confs[i].Validate())
	}
	return confs
}

func newTestNode(t *testing.T, schedule string) *Node {
	t.Helper()
	n, err := NewNode(setupConfigs(t, schedule, 10)[1])
	require.NoError(t, err)
	return n
}

// dagBuilder creates the blocks a node would receive from its peers.
type dagBuilder struct {
	t      *testing.T
	blocks map[uint64]map[string]*Block
}

func newDAGBuilder(t *testing.T) *dagBuilder {
	return &dagBuilder{t: t, blocks: make(map[uint64]map[string]*Block)}
}

func (b *dagBuilder) block(sender string, round uint64, parents ...string) *Block {
	b.t.Helper()
	block := &Block{Sender: sender, Round: round, TimeStamp: time.Now().UnixNano()}
	if len(parents) > 0 {
		block.PreviousHash = make(map[string][]byte)
		for _, p := range parents {
			hash, err := b.blocks[round-1][p].getHash()
			require.NoError(b.t, err)
			block.PreviousHash[p] = hash
		}
	}
	if _, ok := b.blocks[round]; !ok {
		b.blocks[round] = make(map[string]*Block)
	}
	b.blocks[round][sender] = block
	return block
}

// fullRound creates one block per node linking to every block of the previous round.
func (b *dagBuilder) fullRound(round uint64) []*Block {
	var parents []string
	if round > 1 {
		parents = names
	}
	blocks := make([]*Block, 0, len(names))
	for _, name := range names {
		blocks = append(blocks, b.block(name, round, parents...))
	}
	return blocks
}

func deliver(n *Node, blocks ...*Block) {
	for _, block := range blocks {
		n.handleBlockMsg(block)
	}
}

func TestIngestionWaitsForParents(t *testing.T) {
	n := newTestNode(t, config.ScheduleRoundRobin)
	b := newDAGBuilder(t)
	first := b.fullRound(1)
	second := b.fullRound(2)

	deliver(n, second...)
	assert.Equal(t, 4, n.pendingCount())
	assert.Equal(t, 0, n.store.Len())

	deliver(n, first[:2]...)
	assert.Equal(t, 4, n.pendingCount())
	assert.Equal(t, uint64(1), n.Round())

	deliver(n, first[2:]...)
	assert.Equal(t, 0, n.pendingCount())
	assert.Equal(t, 8, n.store.Len())
	assert.Equal(t, uint64(3), n.Round())
	assert.Equal(t, uint64(2), <-n.nextRound)
	assert.Equal(t, uint64(3), <-n.nextRound)
}

func TestIngestionDropsInvalidBlocks(t *testing.T) {
	n := newTestNode(t, config.ScheduleRoundRobin)
	b := newDAGBuilder(t)
	deliver(n, b.fullRound(1)...)

	tooFewParents := b.block("node0", 2, "node0", "node1")
	unknownSender := &Block{Sender: "node7", Round: 1}
	roundZero := &Block{Sender: "node2", Round: 0}
	firstWithParents := &Block{Sender: "node3", Round: 1, PreviousHash: map[string][]byte{"node0": nil}}
	badHash := b.block("node1", 2, "node0", "node1", "node2")
	badHash.PreviousHash["node2"] = []byte("not the hash")
	deliver(n, tooFewParents, unknownSender, roundZero, firstWithParents, badHash)

	assert.Equal(t, 0, n.pendingCount())
	assert.Equal(t, 4, n.store.Len())
	assert.Empty(t, n.dag[2])
}

func TestDuplicateBlockIsIgnored(t *testing.T) {
	n := newTestNode(t, config.ScheduleRoundRobin)
	b := newDAGBuilder(t)
	first := b.fullRound(1)
	deliver(n, first...)
	deliver(n, first[0])

	other := &Block{Sender: "node0", Round: 1, Txs: [][]byte{[]byte("tx")}}
	deliver(n, other)
	assert.Equal(t, 4, n.store.Len())
	assert.Same(t, first[0], n.dag[1]["node0"])
}

func TestCommitFollowsLeaderRanks(t *testing.T) {
	n := newTestNode(t, config.ScheduleRoundRobin)
	b := newDAGBuilder(t)
	deliver(n, b.fullRound(1)...)
	deliver(n, b.fullRound(2)...)
	assert.Empty(t, n.CommittedLeaders())

	deliver(n, b.fullRound(3)...)
	leaders := n.CommittedLeaders()
	require.Len(t, leaders, 4)
	// round 1 gives rank 0 to node1, then node2, node3 and node0
	expected := []string{"node1-r1", "node2-r1", "node3-r1", "node0-r1"}
	for i, leader := range leaders {
		assert.Equal(t, expected[i], leader.Label)
		assert.Equal(t, i, leader.LeaderRank)
	}
	assert.Equal(t, 4, n.CommittedBlocks())

	deliver(n, b.fullRound(4)...)
	leaders = n.CommittedLeaders()
	require.Len(t, leaders, 8)
	assert.Equal(t, "node2-r2", leaders[4].Label)
	// the first leader of round 2 brings in no new ancestors
	assert.Equal(t, 8, n.CommittedBlocks())
	assert.Equal(t, uint64(2), n.chain.round)

	sequence := n.chain.sequence
	for i := 1; i < len(sequence); i++ {
		assert.LessOrEqual(t, sequence[i-1].Round, sequence[i].Round)
	}
}

func TestCommitWithCoinSchedule(t *testing.T) {
	shares, pubPoly := sign.GenTSKeys(3, 4)
	confs := setupConfigs(t, config.ScheduleCoin, 10)
	confs[1].TsPublicKey, confs[1].TsPrivateKey = pubPoly, shares[1]
	n, err := NewNode(confs[1])
	require.NoError(t, err)

	b := newDAGBuilder(t)
	for round := uint64(1); round <= 3; round++ {
		deliver(n, b.fullRound(round)...)
	}
	// the blocks wait for the ranks of their round
	assert.Equal(t, 0, n.store.Len())
	assert.Equal(t, 12, n.pendingCount())

	for round := uint64(1); round <= 3; round++ {
		data, err := coinData(round)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			n.handleElectMsg(&Elect{Sender: names[i], Round: round, PartialSig: sign.SignTSPartial(shares[i], data)})
		}
	}
	assert.Equal(t, 0, n.pendingCount())
	assert.Equal(t, 12, n.store.Len())

	ranks, ok := n.schedule.Ranks(1)
	require.True(t, ok)
	leaders := n.CommittedLeaders()
	require.Len(t, leaders, 4)
	for i, leader := range leaders {
		assert.Equal(t, i, leader.LeaderRank)
		assert.Equal(t, i, ranks[leader.Authority])
	}
}

func isPrefix(short, long []mysticeti.BlockReference) bool {
	if len(short) > len(long) {
		short, long = long, short
	}
	for i := range short {
		if short[i] != long[i] {
			return false
		}
	}
	return true
}

func TestWith4Nodes(t *testing.T) {
	for _, schedule := range []string{config.ScheduleRoundRobin, config.ScheduleCoin} {
		t.Run(schedule, func(t *testing.T) {
			confs := setupConfigs(t, schedule, 12)
			confs[0].IsFaulty = true
			traceFile := filepath.Join(t.TempDir(), "trace.json")
			confs[1].TraceFile = traceFile

			nodes := make([]*Node, 4)
			for i, conf := range confs {
				var err error
				nodes[i], err = NewNode(conf)
				require.NoError(t, err)
				nodes[i].drainTime = 100 * time.Millisecond
				require.NoError(t, nodes[i].StartP2PListen())
				defer nodes[i].Close()
			}
			for _, n := range nodes {
				require.NoError(t, n.EstablishP2PConns())
			}

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, len(nodes))
			for _, n := range nodes {
				go func(n *Node) {
					done <- n.Run(ctx)
				}(n)
			}

			require.Eventually(t, func() bool {
				for _, n := range nodes[1:] {
					if len(n.CommittedLeaders()) < 12 {
						return false
					}
				}
				return true
			}, 30*time.Second, 50*time.Millisecond)

			cancel()
			for range nodes {
				assert.NoError(t, <-done)
			}

			for i := 1; i < 4; i++ {
				for j := i + 1; j < 4; j++ {
					assert.True(t, isPrefix(nodes[i].CommittedLeaders(), nodes[j].CommittedLeaders()),
						"node%d and node%d disagree", i, j)
				}
			}
			assert.Empty(t, nodes[0].CommittedLeaders())

			f, err := os.Open(traceFile)
			require.NoError(t, err)
			defer f.Close()
			trace, err := mysticeti.DecodeTrace(f)
			require.NoError(t, err)
			assert.NotEmpty(t, trace.States)
		})
	}
}
