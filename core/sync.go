package core

// Chain synchronization — a pull-based walk that fetches missing blocks one
// index at a time. Progress is strictly monotonic in height; a response
// that fails validation aborts the walk instead of corrupting state, and
// the next walk resumes from the local top.

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const syncInterval = 30 * time.Second

// SyncLoop periodically starts a sync walk until the context is cancelled.
// Broadcasts are best-effort (a full peer buffer drops them), so repair
// between quiescent peers depends on this loop.
func (n *Node) SyncLoop(ctx context.Context) {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Sync()
		}
	}
}

// Sync requests the next missing block from a random peer, starting a new
// sync walk.
func (n *Node) Sync() {
	peer, ok := n.RandomPeer()
	if !ok {
		return
	}
	n.RequestNextBlock(peer)
}

// RequestNextBlock asks peerID for the block after the local top.
func (n *Node) RequestNextBlock(peerID string) {
	height, err := n.chain.Len()
	if err != nil {
		logrus.Warnf("sync: read chain height: %v", err)
		return
	}
	n.Send(peerID, Payload{Type: MsgBlockRequest, Index: height + 1})
}

// repairGap reacts to a broadcast block that could not be appended. A block
// ahead of the local top means intermediate blocks were missed (dropped or
// reordered); pull them from the sender, which evidently has them.
func (n *Node) repairGap(p *Peer, b *Block) {
	height, err := n.chain.Len()
	if err != nil {
		logrus.Warnf("gap repair: read chain height: %v", err)
		return
	}
	if b.Index > height+1 {
		n.RequestNextBlock(p.ID)
	}
}

// handleBlockRequest serves a single stored block. Requests beyond the
// local top are answered with silence; the requester retries on its next
// sync.
func (n *Node) handleBlockRequest(p *Peer, index uint64) {
	top, err := n.chain.Top()
	if err != nil {
		logrus.Warnf("block request %d: %v", index, err)
		return
	}
	if index > top.Index {
		return
	}
	b, err := n.chain.At(index)
	if err != nil {
		logrus.Warnf("block request %d: %v", index, err)
		return
	}
	n.Send(p.ID, Payload{Type: MsgBlockResponse, Block: b})
}

// handleBlockResponse applies a pulled block and, on success, advances the
// walk by requesting the next index from a random peer.
func (n *Node) handleBlockResponse(b *Block) {
	if b == nil {
		return
	}
	if err := n.chain.AddBlock(b); err != nil {
		logrus.Debugf("sync walk stopped at block %d: %v", b.Index, err)
		return
	}
	logrus.Infof("Synced block %d (%s)", b.Index, b.Hash)

	if peer, ok := n.RandomPeer(); ok {
		n.Send(peer, Payload{Type: MsgBlockRequest, Index: b.Index + 1})
	}
}
