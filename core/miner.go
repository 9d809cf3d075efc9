package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Miner drains the pending pool, mines blocks and broadcasts them. One
// miner runs per node; it is the only producer of local blocks.
type Miner struct {
	chain    *Chain
	node     *Node
	logger   *logrus.Logger
	interval time.Duration
}

// NewMiner wires a miner to the shared chain handle. node may be nil, in
// which case mined blocks are not broadcast.
func NewMiner(chain *Chain, node *Node, lg *logrus.Logger) *Miner {
	if lg == nil {
		lg = logrus.StandardLogger()
	}
	return &Miner{
		chain:    chain,
		node:     node,
		logger:   lg,
		interval: time.Second,
	}
}

// Run mines until the context is cancelled. The pool drains newest-first;
// ordering is not part of consensus since blocks are totally ordered by
// index once mined.
func (m *Miner) Run(ctx context.Context) {
	m.logger.Info("miner started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("miner stopped")
			return
		default:
		}

		pending, ok := m.chain.PopMempool()
		if !ok {
			select {
			case <-ctx.Done():
			case <-time.After(m.interval):
			}
			continue
		}

		block, err := m.chain.MineAndAppend(ctx, pending)
		if err != nil {
			m.logger.Warnf("mine pending record: %v", err)
			continue
		}
		m.logger.Infof("Block %d mined: nonce %d, hash %s", block.Index, block.Nonce, block.Hash)

		if m.node != nil {
			m.node.Yell(Payload{Type: MsgBlockchainTx, Block: block})
		}
	}
}
