package node

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand"

	"github.com/gitzhang10/mysticeti/config"
	"github.com/gitzhang10/mysticeti/mysticeti"
	"github.com/gitzhang10/mysticeti/sign"
	"github.com/pkg/errors"
	"go.dedis.ch/kyber/v3/share"
)

// LeaderSchedule gives every authority its leader rank in a round.
type LeaderSchedule interface {
	// Ranks returns the ranks indexed by authority, or false while they are unknown.
	Ranks(round uint64) ([]int, bool)
}

// roundRobin rotates rank 0 over the authorities, one step per round.
type roundRobin struct{}

func (roundRobin) Ranks(round uint64) ([]int, bool) {
	const n = uint64(mysticeti.NumAuthorities)
	ranks := make([]int, n)
	for a := range ranks {
		ranks[a] = int((uint64(a) + n - round%n) % n)
	}
	return ranks, true
}

// coinSchedule draws the ranks of a round from a threshold signature on the round
// number. Any 2f+1 shares assemble the same signature, so every node that collects a
// quorum ends up with the same permutation.
type coinSchedule struct {
	publicKey *share.PubPoly
	quorumNum int
	nodeNum   int
	shares    map[uint64]map[string][]byte // map from round to sender to partial signature
	ranks     map[uint64][]int
}

func newCoinSchedule(publicKey *share.PubPoly, quorumNum, nodeNum int) *coinSchedule {
	return &coinSchedule{
		publicKey: publicKey,
		quorumNum: quorumNum,
		nodeNum:   nodeNum,
		shares:    make(map[uint64]map[string][]byte),
		ranks:     make(map[uint64][]int),
	}
}

func coinData(round uint64) ([]byte, error) {
	return encode(round)
}

// addShare stores a verified share and reports whether it revealed the ranks of its round.
func (c *coinSchedule) addShare(elect *Elect) (bool, error) {
	if _, ok := c.ranks[elect.Round]; ok {
		return false, nil
	}
	data, err := coinData(elect.Round)
	if err != nil {
		return false, err
	}
	if err := sign.VerifyTSPartial(c.publicKey, data, elect.PartialSig); err != nil {
		return false, errors.Wrapf(err, "share of %s for round %d", elect.Sender, elect.Round)
	}
	if _, ok := c.shares[elect.Round]; !ok {
		c.shares[elect.Round] = make(map[string][]byte)
	}
	c.shares[elect.Round][elect.Sender] = elect.PartialSig
	if len(c.shares[elect.Round]) < c.quorumNum {
		return false, nil
	}

	partialSigs := make([][]byte, 0, len(c.shares[elect.Round]))
	for _, sig := range c.shares[elect.Round] {
		partialSigs = append(partialSigs, sig)
	}
	qc, err := sign.AssembleIntactTSPartial(partialSigs, c.publicKey, data, c.quorumNum, c.nodeNum)
	if err != nil {
		return false, err
	}
	c.ranks[elect.Round] = ranksFromCoin(qc)
	delete(c.shares, elect.Round)
	return true, nil
}

func (c *coinSchedule) Ranks(round uint64) ([]int, bool) {
	ranks, ok := c.ranks[round]
	return ranks, ok
}

// ranksFromCoin maps an assembled signature to a permutation of the authorities.
func ranksFromCoin(qc []byte) []int {
	seed := sha256.Sum256(qc)
	r := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(seed[:8]))))
	return r.Perm(mysticeti.NumAuthorities)
}

func newLeaderSchedule(conf *config.Config, quorumNum, nodeNum int) (LeaderSchedule, error) {
	switch conf.LeaderSchedule {
	case config.ScheduleRoundRobin, "":
		return roundRobin{}, nil
	case config.ScheduleCoin:
		if conf.TsPublicKey == nil || conf.TsPrivateKey == nil {
			return nil, errors.New("the coin schedule needs threshold keys")
		}
		return newCoinSchedule(conf.TsPublicKey, quorumNum, nodeNum), nil
	default:
		return nil, errors.Errorf("unknown leader schedule %q", conf.LeaderSchedule)
	}
}
