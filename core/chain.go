package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ChainConfig configures the on-disk location of the chain's stores.
type ChainConfig struct {
	DataDir string
}

// Chain owns the block store, the query index and the pending-record pool.
// One mutex guards all three; the miner, the API and the p2p node share a
// single *Chain handle and every mutation or read goes through it.
type Chain struct {
	mu    sync.Mutex
	mpool []PendingBlock
	store *Store
	index *Index
}

// NewChain opens the chain at cfg.DataDir, seeds genesis if the store is
// empty, and catches the index up by replaying the store.
func NewChain(cfg ChainConfig) (*Chain, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := OpenStore(filepath.Join(cfg.DataDir, "blocks"))
	if err != nil {
		return nil, err
	}
	index, err := OpenIndex(filepath.Join(cfg.DataDir, "chainindex.db"))
	if err != nil {
		store.Close()
		return nil, err
	}

	c := &Chain{store: store, index: index}

	if _, err := store.Height(); err != nil {
		if !errors.Is(err, ErrEmptyStore) {
			c.Close()
			return nil, err
		}
		gen := Genesis()
		if err := store.Put(gen); err != nil {
			c.Close()
			return nil, err
		}
		logrus.Infof("Seeded genesis block %s", gen.Hash)
	}

	// Catch the index up.
	if err := c.replayIndex(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// replayIndex projects every stored block into the index. Insertions are
// idempotent and updates replay in index order, so the result equals the
// live projection.
func (c *Chain) replayIndex() error {
	height, err := c.store.Height()
	if err != nil {
		return err
	}
	for i := uint64(0); i <= height; i++ {
		b, err := c.store.Get(i)
		if err != nil {
			return fmt.Errorf("replay block %d: %w", i, err)
		}
		if err := c.index.AddBlock(b); err != nil {
			return fmt.Errorf("replay block %d: %w", i, err)
		}
	}
	return nil
}

// Close releases the store and index.
func (c *Chain) Close() error {
	ierr := c.index.Close()
	serr := c.store.Close()
	if serr != nil {
		return serr
	}
	return ierr
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

// Len returns the chain height (the index of the top block; 0 for a
// genesis-only chain).
func (c *Chain) Len() (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Height()
}

// At retrieves the block at the given index, or ErrBlockNotFound.
func (c *Chain) At(index uint64) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Get(index)
}

// Top retrieves the latest block.
func (c *Chain) Top() (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Top()
}

// Blocks reads the full chain in index order.
func (c *Chain) Blocks() ([]*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	height, err := c.store.Height()
	if err != nil {
		return nil, err
	}
	blocks := make([]*Block, 0, height+1)
	for i := uint64(0); i <= height; i++ {
		b, err := c.store.Get(i)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// Print dumps the chain to stdout as pretty-printed JSON.
func (c *Chain) Print() {
	blocks, err := c.Blocks()
	if err != nil {
		logrus.Warnf("print chain: %v", err)
		return
	}
	divider := strings.Repeat("=", 82)
	fmt.Println(divider)
	for _, b := range blocks {
		raw, err := json.MarshalIndent(b, "", "  ")
		if err != nil {
			continue
		}
		fmt.Println(string(raw))
		fmt.Println(divider)
	}
}

// -----------------------------------------------------------------------------
// Admission
// -----------------------------------------------------------------------------

// AddBlock validates and appends a block. On success the store and index are
// both updated before the chain lock is released; on any validation failure
// the chain is untouched.
func (c *Chain) AddBlock(b *Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addBlock(b)
}

func (c *Chain) addBlock(b *Block) error {
	if b.Index > 0 {
		if err := b.ValidateSignature(); err != nil {
			return err
		}
		if err := c.validateHash(b); err != nil {
			return err
		}
		if err := c.validateUser(b); err != nil {
			return err
		}
	}

	if err := c.store.Put(b); err != nil {
		return err
	}
	if err := c.index.AddBlock(b); err != nil {
		return err
	}
	return nil
}

// validateHash checks the block links to the current top and that the
// difficulty was met during mining.
func (c *Chain) validateHash(b *Block) error {
	top, err := c.store.Top()
	if err != nil {
		return err
	}
	if b.PrevHash != top.Hash {
		return errors.New("Block hash did not match previous hash.")
	}
	if !strings.HasPrefix(b.Hash, strings.Repeat("0", Difficulty)) {
		return errors.New("Block hash did not meet difficulty.")
	}
	return nil
}

// validateUser enforces registration rules against the current store: a new
// user may not reuse a username or public key, and posts and profile
// updates must come from a registered key.
func (c *Chain) validateUser(b *Block) error {
	userNames := map[string]struct{}{}
	userPkeys := map[string]struct{}{}

	height, err := c.store.Height()
	if err != nil {
		return err
	}
	for i := uint64(0); i <= height; i++ {
		prev, err := c.store.Get(i)
		if err != nil {
			return err
		}
		if prev.Data.Type == DataUser {
			userNames[prev.Data.Username] = struct{}{}
			userPkeys[prev.PublicKey] = struct{}{}
		}
	}

	switch b.Data.Type {
	case DataUser:
		if _, taken := userNames[b.Data.Username]; taken {
			return fmt.Errorf("Username '%s' is already taken.", b.Data.Username)
		}
		if _, taken := userPkeys[b.PublicKey]; taken {
			return fmt.Errorf("Public key '%s' is already registered.", b.PublicKey)
		}
	case DataPost, DataUserUpdate:
		if _, registered := userPkeys[b.PublicKey]; !registered {
			return fmt.Errorf("Public key '%s' is not registered.", b.PublicKey)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Pending pool
// -----------------------------------------------------------------------------

// PushMempool validates a pending record and appends it to the pool in
// arrival order.
func (c *Chain) PushMempool(p PendingBlock) error {
	if err := p.ValidateSignature(); err != nil {
		return err
	}
	if err := p.ValidateSize(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mpool = append(c.mpool, p)
	return nil
}

// PopMempool removes and returns the most recently pushed pending record.
func (c *Chain) PopMempool() (PendingBlock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.mpool) == 0 {
		return PendingBlock{}, false
	}
	p := c.mpool[len(c.mpool)-1]
	c.mpool = c.mpool[:len(c.mpool)-1]
	return p, true
}

// MempoolLen returns the number of pending records.
func (c *Chain) MempoolLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mpool)
}

// MineAndAppend builds the successor of the current top from a pending
// record, mines it and appends it, all under the chain lock so no other
// admission interleaves with proof-of-work.
func (c *Chain) MineAndAppend(ctx context.Context, p PendingBlock) (*Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	top, err := c.store.Top()
	if err != nil {
		return nil, err
	}

	b := NextBlock(top, p.Data)
	b.Timestamp = p.Timestamp
	b.PublicKey = p.PublicKey
	b.Signature = p.Signature
	if err := b.Mine(ctx); err != nil {
		return nil, err
	}

	if err := c.addBlock(b); err != nil {
		return nil, err
	}
	return b, nil
}

// -----------------------------------------------------------------------------
// Index reads (taken under the chain lock so callers observe a consistent
// height/projection pair)
// -----------------------------------------------------------------------------

// GetUserByUsername retrieves a user by exact username, or nil.
func (c *Chain) GetUserByUsername(username string) (*User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.GetUserByUsername(username)
}

// GetUserByPublicKey retrieves a user by public key, or nil.
func (c *Chain) GetUserByPublicKey(publicKey string) (*User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.GetUserByPublicKey(publicKey)
}

// SearchUsers finds users by username substring, case-insensitively.
func (c *Chain) SearchUsers(search string) ([]User, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.SearchUsers(search)
}

// HasUsername reports whether a username is registered.
func (c *Chain) HasUsername(username string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.HasUsername(username)
}

// HasPubkey reports whether a public key is registered.
func (c *Chain) HasPubkey(publicKey string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.HasPubkey(publicKey)
}

// GetFeed retrieves posts for the given usernames (all posts when empty),
// newest first.
func (c *Chain) GetFeed(usernames []string, limit, offset int) ([]Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.GetFeed(usernames, limit, offset)
}

// GetPost retrieves a post by its block hash, or nil.
func (c *Chain) GetPost(hash string) (*Post, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.GetPost(hash)
}

// HydratePost attaches a post's replies and parent.
func (c *Chain) HydratePost(p Post) (*PostDetail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.HydratePost(p)
}

// HydrateFeed hydrates every post of a feed.
func (c *Chain) HydrateFeed(feed []Post) ([]PostDetail, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.HydrateFeed(feed)
}
