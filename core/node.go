package core

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	dialTimeout      = 5 * time.Second
	handshakeTimeout = 10 * time.Second

	// maxLineBytes bounds a single protocol line. Blocks are small; anything
	// larger is a protocol violation.
	maxLineBytes = 1 << 20
)

// Node is the long-lived p2p service: it owns the listener, the peer table
// and the per-peer reader/writer loops, and applies incoming blocks to the
// shared chain handle.
type Node struct {
	ID    string
	chain *Chain

	ln net.Listener

	mu    sync.Mutex
	peers map[string]*Peer

	advertiseOnce sync.Once
	advertised    string
}

// NewNode creates a node with a fresh random identity.
func NewNode(chain *Chain) *Node {
	return &Node{
		ID:    uuid.NewString(),
		chain: chain,
		peers: make(map[string]*Peer),
	}
}

// Start binds the listener on addr and launches the accept loop. The
// listener is closed when the context is cancelled.
func (n *Node) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	n.ln = ln
	logrus.Infof("Running p2p on %s (peer %s)", ln.Addr(), n.ID)

	go func() {
		<-ctx.Done()
		_ = n.Close()
	}()
	go n.acceptLoop()
	return nil
}

// Addr returns the bound listen address.
func (n *Node) Addr() string {
	if n.ln == nil {
		return ""
	}
	return n.ln.Addr().String()
}

// advertiseAddr returns the address carried in handshakes and gossip. A
// listener bound to an unspecified host (0.0.0.0) is rewritten to this
// host's outbound IP, which is what remote peers can actually dial.
func (n *Node) advertiseAddr() string {
	n.advertiseOnce.Do(func() {
		n.advertised = n.Addr()
		host, port, err := net.SplitHostPort(n.advertised)
		if err != nil {
			return
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsUnspecified() {
			return
		}
		// No packets are sent; the dial only resolves the preferred
		// outbound interface.
		conn, err := net.Dial("udp", "8.8.8.8:80")
		if err != nil {
			return
		}
		defer conn.Close()
		if local, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			n.advertised = net.JoinHostPort(local.IP.String(), port)
		}
	})
	return n.advertised
}

// Close shuts the listener and disconnects every peer.
func (n *Node) Close() error {
	var err error
	if n.ln != nil {
		err = n.ln.Close()
	}
	n.mu.Lock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.peers = make(map[string]*Peer)
	n.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
	return err
}

func (n *Node) acceptLoop() {
	for {
		conn, err := n.ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logrus.Warnf("accept: %v", err)
			}
			return
		}
		go n.handleInbound(conn)
	}
}

// -----------------------------------------------------------------------------
// Connection lifecycle
// -----------------------------------------------------------------------------

// handleInbound runs the passive handshake: read the peer's handshake line,
// answer with our own, then install the peer.
func (n *Node) handleInbound(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	scanner := newLineScanner(conn)

	hs, err := readHandshake(scanner)
	if err != nil {
		logrus.Debugf("inbound handshake from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	if err := n.checkHandshake(hs); err != nil {
		logrus.Debugf("inbound handshake from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}
	if err := n.writeHandshake(conn); err != nil {
		conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if n.installPeer(hs.PeerID, hs.Addr, conn, scanner) {
		n.RequestNextBlock(hs.PeerID)
	}
}

// Connect runs the active handshake against addr and installs the peer. A
// freshly connected peer is immediately asked for the next missing block.
func (n *Node) Connect(addr string) error {
	if addr == n.Addr() {
		return nil
	}

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	if err := n.writeHandshake(conn); err != nil {
		conn.Close()
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	scanner := newLineScanner(conn)
	hs, err := readHandshake(scanner)
	if err != nil {
		conn.Close()
		return fmt.Errorf("handshake %s: %w", addr, err)
	}
	if err := n.checkHandshake(hs); err != nil {
		conn.Close()
		return err
	}
	_ = conn.SetReadDeadline(time.Time{})

	if !n.installPeer(hs.PeerID, addr, conn, scanner) {
		return nil
	}
	n.RequestNextBlock(hs.PeerID)
	return nil
}

func newLineScanner(conn net.Conn) *bufio.Scanner {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return scanner
}

func readHandshake(scanner *bufio.Scanner) (*Handshake, error) {
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, err
		}
		return nil, errors.New("connection closed before handshake")
	}
	var hs Handshake
	if err := json.Unmarshal(scanner.Bytes(), &hs); err != nil {
		return nil, fmt.Errorf("decode handshake: %w", err)
	}
	return &hs, nil
}

func (n *Node) checkHandshake(hs *Handshake) error {
	if hs.Version != ProtocolVersion {
		return fmt.Errorf("protocol version mismatch: %q", hs.Version)
	}
	if hs.PeerID == n.ID {
		return errors.New("loopback connection rejected")
	}
	return nil
}

func (n *Node) writeHandshake(conn net.Conn) error {
	raw, err := json.Marshal(Handshake{
		Version: ProtocolVersion,
		PeerID:  n.ID,
		Addr:    n.advertiseAddr(),
	})
	if err != nil {
		return err
	}
	_, err = conn.Write(append(raw, '\n'))
	return err
}

// installPeer registers the peer and spawns its reader and writer loops.
// A duplicate connection to a known peer is dropped.
func (n *Node) installPeer(id, addr string, conn net.Conn, scanner *bufio.Scanner) bool {
	n.mu.Lock()
	if _, exists := n.peers[id]; exists {
		n.mu.Unlock()
		conn.Close()
		return false
	}
	p := newPeer(id, addr)
	n.peers[id] = p
	n.mu.Unlock()

	logrus.Infof("Peer %s connected (%s)", id, addr)
	go n.writeLoop(p, conn)
	go n.readLoop(p, conn, scanner)
	return true
}

// writeLoop owns the socket write half exclusively, draining the peer's
// outbound channel so producers never interleave writes.
func (n *Node) writeLoop(p *Peer, conn net.Conn) {
	defer conn.Close()
	enc := json.NewEncoder(conn)
	for {
		select {
		case <-p.done:
			return
		case msg := <-p.out:
			if err := enc.Encode(msg); err != nil {
				logrus.Infof("Disconnected from peer %s", p.ID)
				n.RemPeer(p.ID)
				return
			}
		}
	}
}

func (n *Node) readLoop(p *Peer, conn net.Conn, scanner *bufio.Scanner) {
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			logrus.Debugf("invalid message from %s: %v", p.ID, err)
			break
		}
		n.handleMessage(p, msg)
	}
	n.RemPeer(p.ID)
	conn.Close()
}

// -----------------------------------------------------------------------------
// Peer table
// -----------------------------------------------------------------------------

// HasPeer reports whether a peer is connected.
func (n *Node) HasPeer(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.peers[id]
	return ok
}

// RemPeer drops a peer and releases its loops.
func (n *Node) RemPeer(id string) {
	n.mu.Lock()
	p, ok := n.peers[id]
	delete(n.peers, id)
	n.mu.Unlock()
	if ok {
		p.close()
	}
}

// GetPeers returns the advertised form of every connected peer.
func (n *Node) GetPeers() []PeerInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	infos := make([]PeerInfo, 0, len(n.peers))
	for _, p := range n.peers {
		infos = append(infos, p.info())
	}
	return infos
}

// PeerIDs returns the ids of every connected peer.
func (n *Node) PeerIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.peers))
	for id := range n.peers {
		ids = append(ids, id)
	}
	return ids
}

// RandomPeer picks one connected peer uniformly at random.
func (n *Node) RandomPeer() (string, bool) {
	ids := n.PeerIDs()
	if len(ids) == 0 {
		return "", false
	}
	return ids[rand.Intn(len(ids))], true
}

// -----------------------------------------------------------------------------
// Sending
// -----------------------------------------------------------------------------

// Send delivers a payload to one peer, best-effort: a full outbound buffer
// drops the message and the sync walk repairs any gap.
func (n *Node) Send(peerID string, pl Payload) {
	n.mu.Lock()
	p, ok := n.peers[peerID]
	n.mu.Unlock()
	if !ok {
		logrus.Debugf("no such peer: %s", peerID)
		return
	}
	msg := Message{Sender: n.ID, Receiver: peerID, Payload: pl}
	if !p.send(msg) {
		logrus.Debugf("peer %s send buffer full, dropping %s", peerID, pl.Type)
	}
}

// Yell broadcasts a payload to every connected peer.
func (n *Node) Yell(pl Payload) {
	msg := Message{Sender: n.ID, Payload: pl}
	n.mu.Lock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()
	for _, p := range peers {
		if !p.send(msg) {
			logrus.Debugf("peer %s send buffer full, dropping %s", p.ID, pl.Type)
		}
	}
}

// -----------------------------------------------------------------------------
// Dispatch
// -----------------------------------------------------------------------------

func (n *Node) handleMessage(p *Peer, msg Message) {
	switch msg.Payload.Type {
	case MsgChat:
		logrus.Infof("[%s] %s", p.ID, msg.Payload.Message)
	case MsgPeerDiscovery:
		n.Send(p.ID, n.gossipPayload())
	case MsgPeerGossip:
		n.handleGossip(msg.Payload.Peers)
	case MsgBlockchainTx:
		if msg.Payload.Block == nil {
			return
		}
		if err := n.chain.AddBlock(msg.Payload.Block); err != nil {
			logrus.Debugf("rejected broadcast block from %s: %v", p.ID, err)
			n.repairGap(p, msg.Payload.Block)
		}
	case MsgBlockRequest:
		n.handleBlockRequest(p, msg.Payload.Index)
	case MsgBlockResponse:
		n.handleBlockResponse(msg.Payload.Block)
	default:
		logrus.Debugf("unknown message type %q from %s", msg.Payload.Type, p.ID)
	}
}
