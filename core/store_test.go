package core

import (
	"context"
	"errors"
	"testing"
)

func tmpStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

//-------------------------------------------------------------
// Empty store
//-------------------------------------------------------------

func TestStoreEmpty(t *testing.T) {
	s := tmpStore(t)

	if _, err := s.Top(); !errors.Is(err, ErrEmptyStore) {
		t.Fatalf("Top on empty store: err = %v, want ErrEmptyStore", err)
	}
	if _, err := s.Height(); !errors.Is(err, ErrEmptyStore) {
		t.Fatalf("Height on empty store: err = %v, want ErrEmptyStore", err)
	}
	if _, err := s.Get(0); !errors.Is(err, ErrBlockNotFound) {
		t.Fatalf("Get on empty store: err = %v, want ErrBlockNotFound", err)
	}
}

//-------------------------------------------------------------
// Put / Get / Top / Height
//-------------------------------------------------------------

func TestStorePutGet(t *testing.T) {
	s := tmpStore(t)

	g := Genesis()
	if err := s.Put(g); err != nil {
		t.Fatalf("put genesis: %v", err)
	}

	b1 := NextBlock(g, PostData("first", nil))
	if err := b1.Mine(context.Background()); err != nil {
		t.Fatalf("mine: %v", err)
	}
	if err := s.Put(b1); err != nil {
		t.Fatalf("put block 1: %v", err)
	}

	got, err := s.Get(1)
	if err != nil {
		t.Fatalf("get block 1: %v", err)
	}
	if got.Hash != b1.Hash || got.Data.Body != "first" {
		t.Fatalf("got %+v, want %+v", got, b1)
	}

	top, err := s.Top()
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if top.Index != 1 {
		t.Fatalf("top index = %d, want 1", top.Index)
	}

	height, err := s.Height()
	if err != nil {
		t.Fatalf("height: %v", err)
	}
	if height != 1 {
		t.Fatalf("height = %d, want 1", height)
	}
}

func TestStoreOverwrite(t *testing.T) {
	s := tmpStore(t)

	g := Genesis()
	if err := s.Put(g); err != nil {
		t.Fatalf("put: %v", err)
	}

	replacement := NewBlock(PostData("rewritten", nil), 0, GenesisPrevHash)
	if err := s.Put(replacement); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err := s.Get(0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Data.Body != "rewritten" {
		t.Fatal("put should overwrite the existing block")
	}
}

//-------------------------------------------------------------
// Durability across reopen
//-------------------------------------------------------------

func TestStoreReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	g := Genesis()
	if err := s.Put(g); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(0)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if got.Hash != g.Hash {
		t.Fatalf("hash after reopen = %q, want %q", got.Hash, g.Hash)
	}
}
