package node

import (
	"github.com/gitzhang10/mysticeti/sign"
	"github.com/hashicorp/go-multierror"
)

func (n *Node) broadcastBlock(round uint64) error {
	previousHash := n.selectPreviousBlocks(round - 1)
	block := n.NewBlock(round, previousHash)
	return n.broadcast(ProposalTag, block)
}

func (n *Node) broadcastElect(round uint64) error {
	data, err := coinData(round)
	if err != nil {
		return err
	}
	partialSig := sign.SignTSPartial(n.tsPrivateKey, data)
	elect := Elect{
		Sender:     n.name,
		Round:      round,
		PartialSig: partialSig,
	}
	return n.broadcast(ElectTag, elect)
}

// send message to all nodes, the node itself included
func (n *Node) broadcast(msgType uint8, msg interface{}) error {
	msgAsBytes, err := encode(msg)
	if err != nil {
		return err
	}
	sig := sign.SignEd25519(n.privateKey, msgAsBytes)
	var result *multierror.Error
	for addrWithPort := range n.clusterAddrWithPorts {
		if err := n.trans.Send(addrWithPort, msgType, msg, sig); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
