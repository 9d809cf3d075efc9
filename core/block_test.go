package core

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

//-------------------------------------------------------------
// Genesis
//-------------------------------------------------------------

func TestGenesisBlock(t *testing.T) {
	g := Genesis()
	if g.Index != 0 {
		t.Fatalf("index = %d, want 0", g.Index)
	}
	if g.PrevHash != GenesisPrevHash {
		t.Fatalf("prev_hash = %q, want %q", g.PrevHash, GenesisPrevHash)
	}
	if g.Data.Type != DataGenesis {
		t.Fatalf("data type = %q, want Genesis", g.Data.Type)
	}
	if g.PublicKey != "" || g.Signature != "" {
		t.Fatal("genesis must carry no key or signature")
	}
	if g.Hash != g.ComputeHash() {
		t.Fatal("genesis hash must match recomputation")
	}

	// Every node must derive an identical genesis.
	if other := Genesis(); other.Hash != g.Hash {
		t.Fatalf("genesis not deterministic: %s vs %s", other.Hash, g.Hash)
	}
}

//-------------------------------------------------------------
// Hash linkage and mining
//-------------------------------------------------------------

func TestNextBlockLinksToPrev(t *testing.T) {
	g := Genesis()
	b := NextBlock(g, PostData("hello", nil))
	if b.Index != 1 {
		t.Fatalf("index = %d, want 1", b.Index)
	}
	if b.PrevHash != g.Hash {
		t.Fatalf("prev_hash = %q, want %q", b.PrevHash, g.Hash)
	}
}

func TestMineMeetsDifficulty(t *testing.T) {
	b := NextBlock(Genesis(), PostData("hello", nil))
	if err := b.Mine(context.Background()); err != nil {
		t.Fatalf("mine: %v", err)
	}
	if !strings.HasPrefix(b.Hash, strings.Repeat("0", Difficulty)) {
		t.Fatalf("hash %q does not meet difficulty %d", b.Hash, Difficulty)
	}
	if b.Hash != b.ComputeHash() {
		t.Fatal("mined hash must match recomputation")
	}
}

func TestMineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NextBlock(Genesis(), PostData("hello", nil))
	if err := b.Mine(ctx); err == nil {
		t.Fatal("mining with a cancelled context should fail")
	}
}

// Tampering with any field after mining must invalidate the stored hash.
func TestHashCoversAllFields(t *testing.T) {
	mined := func() *Block {
		b := NextBlock(Genesis(), PostData("hello", nil))
		if err := b.Mine(context.Background()); err != nil {
			t.Fatalf("mine: %v", err)
		}
		return b
	}

	tests := []struct {
		name   string
		tamper func(*Block)
	}{
		{"Index", func(b *Block) { b.Index++ }},
		{"Timestamp", func(b *Block) { b.Timestamp++ }},
		{"Nonce", func(b *Block) { b.Nonce++ }},
		{"Data", func(b *Block) { b.Data.Body = "tampered" }},
		{"PrevHash", func(b *Block) { b.PrevHash = "1" }},
		{"PublicKey", func(b *Block) { b.PublicKey = "aa" }},
		{"Signature", func(b *Block) { b.Signature = "bb" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := mined()
			tc.tamper(b)
			if b.Hash == b.ComputeHash() {
				t.Fatal("tampering should invalidate the stored hash")
			}
		})
	}
}

//-------------------------------------------------------------
// Canonical signing string
//-------------------------------------------------------------

func TestSigningString(t *testing.T) {
	reply := "abc123"
	tests := []struct {
		name string
		data BlockData
		want string
	}{
		{"Genesis", GenesisData(), ""},
		{
			"User",
			UserData("Alice", "alice", "hi there"),
			`biography="hi there"|display_name="Alice"|username="alice"`,
		},
		{
			"UserUpdate",
			UserUpdateData("Alice B", "moved"),
			`biography="moved"|display_name="Alice B"`,
		},
		{
			"Post",
			PostData("hello world", nil),
			`body="hello world"|reply=null`,
		},
		{
			"PostReply",
			PostData("me too", &reply),
			`body="me too"|reply="abc123"`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.data.SigningString()
			if got != tc.want {
				t.Fatalf("signing string = %q, want %q", got, tc.want)
			}
			if strings.Contains(got, "type") {
				t.Fatal("signing string must not contain the type tag")
			}
			// Pure function of the payload.
			if again := tc.data.SigningString(); again != got {
				t.Fatalf("signing string unstable: %q vs %q", again, got)
			}
		})
	}
}

//-------------------------------------------------------------
// JSON tagging
//-------------------------------------------------------------

func TestBlockDataJSONRoundTrip(t *testing.T) {
	reply := "parent"
	tests := []BlockData{
		GenesisData(),
		UserData("Alice", "alice", "bio"),
		UserUpdateData("Alice B", "new bio"),
		PostData("hello", &reply),
	}
	for _, data := range tests {
		t.Run(data.Type, func(t *testing.T) {
			raw, err := json.Marshal(data)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if !strings.Contains(string(raw), `"type":"`+data.Type+`"`) {
				t.Fatalf("marshalled form %s lacks type tag", raw)
			}
			var back BlockData
			if err := json.Unmarshal(raw, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if back.SigningString() != data.SigningString() {
				t.Fatalf("round trip changed payload: %q vs %q",
					back.SigningString(), data.SigningString())
			}
		})
	}
}

func TestBlockDataUnknownType(t *testing.T) {
	var d BlockData
	if err := json.Unmarshal([]byte(`{"type":"Bogus"}`), &d); err == nil {
		t.Fatal("unknown type tag should fail to decode")
	}
}

//-------------------------------------------------------------
// Pending record size limits
//-------------------------------------------------------------

func TestPendingBlockSizeLimits(t *testing.T) {
	long := func(n int) string { return strings.Repeat("a", n) }

	tests := []struct {
		name    string
		data    BlockData
		wantErr string
	}{
		{"PostOK", PostData(long(300), nil), ""},
		{"PostTooLong", PostData(long(320), nil), "Post body cannot exceed 300 characters."},
		{"UsernameTooLong", UserData("A", long(256), ""), "Username cannot exceed 255 characters."},
		{"DisplayNameTooLong", UserData(long(256), "alice", ""), "Display name cannot exceed 255 characters."},
		{"BiographyTooLong", UserData("A", "alice", long(301)), "Biography cannot exceed 300 characters."},
		{"UpdateBiographyTooLong", UserUpdateData("A", long(301)), "Biography cannot exceed 300 characters."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := PendingBlock{Data: tc.data}
			err := p.ValidateSize()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tc.wantErr {
				t.Fatalf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

// Limits count code points, not bytes.
func TestPendingBlockSizeUnicode(t *testing.T) {
	body := strings.Repeat("ä", 300) // 600 bytes, 300 runes
	p := PendingBlock{Data: PostData(body, nil)}
	if err := p.ValidateSize(); err != nil {
		t.Fatalf("300 runes should be accepted: %v", err)
	}
}
