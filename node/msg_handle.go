package node

import "context"

// HandleMsgLoop verifies and processes the msgs of the peers until ctx is done.
func (n *Node) HandleMsgLoop(ctx context.Context) error {
	msgCh := n.trans.MsgChan()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msgWithSig := <-msgCh:
			if n.isFaulty {
				continue
			}
			switch msgAsserted := msgWithSig.Msg.(type) {
			case Block:
				if !n.verifySigED25519(msgAsserted.Sender, msgWithSig.Msg, msgWithSig.Sig) {
					n.logger.Error("fail to verify the block's signature", "round", msgAsserted.Round,
						"sender", msgAsserted.Sender)
					continue
				}
				n.handleBlockMsg(&msgAsserted)
			case Elect:
				if !n.verifySigED25519(msgAsserted.Sender, msgWithSig.Msg, msgWithSig.Sig) {
					n.logger.Error("fail to verify the elect's signature", "round", msgAsserted.Round,
						"sender", msgAsserted.Sender)
					continue
				}
				n.handleElectMsg(&msgAsserted)
			default:
				n.logger.Warn("unexpected msg type", "msg", msgWithSig.Msg)
			}
		}
	}
}

func (n *Node) handleBlockMsg(block *Block) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.logger.Debug("block is received", "round", block.Round, "proposer", block.Sender)
	n.tryToUpdateDAG(block)
}

func (n *Node) handleElectMsg(elect *Elect) {
	n.lock.Lock()
	defer n.lock.Unlock()
	coin, ok := n.schedule.(*coinSchedule)
	if !ok {
		return
	}
	revealed, err := coin.addShare(elect)
	if err != nil {
		n.logger.Warn("drop the elect msg", "round", elect.Round, "sender", elect.Sender, "error", err)
		return
	}
	if revealed {
		ranks, _ := coin.Ranks(elect.Round)
		n.logger.Debug("leader ranks are revealed", "round", elect.Round, "ranks", ranks)
		n.tryToUpdateDAGFromPending()
		n.tryToNextRound()
		n.tryToCommitLeader()
	}
}
