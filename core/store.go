package core

// Block store — a durable ordered map from block index to block, backed by
// badger. Keys are 8-byte big-endian indexes so the iterator yields blocks
// in height order.

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

var (
	// ErrBlockNotFound is returned when no block exists at the requested
	// index.
	ErrBlockNotFound = errors.New("block not found")
	// ErrEmptyStore is returned by Top and Height before genesis is seeded.
	ErrEmptyStore = errors.New("block store is empty")
)

// Store persists blocks in a badger database. Each Put commits its own
// transaction, so readers never observe a torn write.
type Store struct {
	db *badger.DB
}

// OpenStore opens (or creates) the block store at dir.
func OpenStore(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open block store: %w", err)
	}
	return &Store{db: db}, nil
}

func storeKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

// Put writes or overwrites the block at its index.
func (s *Store) Put(b *Block) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block %d: %w", b.Index, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storeKey(b.Index), raw)
	})
	if err != nil {
		return fmt.Errorf("put block %d: %w", b.Index, err)
	}
	return nil
}

// Get retrieves the block at index, or ErrBlockNotFound.
func (s *Store) Get(index uint64) (*Block, error) {
	var blk Block
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(index))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, &blk)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get block %d: %w", index, err)
	}
	return &blk, nil
}

// Top retrieves the block with the highest index.
func (s *Store) Top() (*Block, error) {
	var blk Block
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Rewind()
		if !it.Valid() {
			return nil
		}
		raw, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, &blk); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("top block: %w", err)
	}
	if !found {
		return nil, ErrEmptyStore
	}
	return &blk, nil
}

// Height returns the highest index present.
func (s *Store) Height() (uint64, error) {
	top, err := s.Top()
	if err != nil {
		return 0, err
	}
	return top.Index, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
