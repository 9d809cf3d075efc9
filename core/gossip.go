package core

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	gossipInterval = 10 * time.Second
	gossipFanout   = 3
)

// GossipLoop periodically advertises the peer table to a random subset of
// peers until the context is cancelled.
func (n *Node) GossipLoop(ctx context.Context) {
	ticker := time.NewTicker(gossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.gossipOnce()
		}
	}
}

func (n *Node) gossipOnce() {
	targets := n.samplePeers(gossipFanout)
	if len(targets) == 0 {
		return
	}
	pl := n.gossipPayload()
	for _, id := range targets {
		n.Send(id, pl)
	}
}

// samplePeers returns up to k peer ids chosen uniformly at random.
func (n *Node) samplePeers(k int) []string {
	ids := n.PeerIDs()
	rand.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
	if len(ids) > k {
		ids = ids[:k]
	}
	return ids
}

// gossipPayload advertises every known peer plus this node itself, so a
// peer that connected to us passively becomes dialable by third parties.
func (n *Node) gossipPayload() Payload {
	peers := n.GetPeers()
	peers = append(peers, PeerInfo{PeerID: n.ID, Addr: n.advertiseAddr()})
	return Payload{Type: MsgPeerGossip, Peers: peers}
}

// handleGossip dials every advertised peer we do not know yet. Each dial
// runs in its own goroutine; a failed dial leaves the table untouched.
func (n *Node) handleGossip(peers []PeerInfo) {
	for _, info := range peers {
		if info.PeerID == n.ID || info.Addr == "" || n.HasPeer(info.PeerID) {
			continue
		}
		go func(addr string) {
			if err := n.Connect(addr); err != nil {
				logrus.Debugf("dial gossiped peer %s: %v", addr, err)
			}
		}(info.Addr)
	}
}
