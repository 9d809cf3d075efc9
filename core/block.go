package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Difficulty is the number of leading "0" characters a mined block hash must
// carry.
const Difficulty = 3

// GenesisPrevHash is the prev_hash sentinel of the block at index 0.
const GenesisPrevHash = "0"

// Record payload type tags.
const (
	DataGenesis    = "Genesis"
	DataUser       = "User"
	DataUserUpdate = "UserUpdate"
	DataPost       = "Post"
)

// Record field size limits, counted in Unicode code points.
const (
	MaxBodyLen        = 300
	MaxUsernameLen    = 255
	MaxDisplayNameLen = 255
	MaxBiographyLen   = 300
)

// BlockData is the tagged record carried by a block. Which fields are
// meaningful depends on Type; the marshaller emits exactly the variant's
// fields so the wire form is canonical.
type BlockData struct {
	Type string

	// User / UserUpdate fields.
	DisplayName string
	Username    string
	Biography   string

	// Post fields.
	Body  string
	Reply *string
}

// GenesisData returns the payload of the genesis block.
func GenesisData() BlockData {
	return BlockData{Type: DataGenesis}
}

// UserData returns a user registration payload.
func UserData(displayName, username, biography string) BlockData {
	return BlockData{
		Type:        DataUser,
		DisplayName: displayName,
		Username:    username,
		Biography:   biography,
	}
}

// UserUpdateData returns a profile update payload.
func UserUpdateData(displayName, biography string) BlockData {
	return BlockData{
		Type:        DataUserUpdate,
		DisplayName: displayName,
		Biography:   biography,
	}
}

// PostData returns a post payload. reply is nil for a top-level post and the
// parent post's block hash for a reply.
func PostData(body string, reply *string) BlockData {
	return BlockData{Type: DataPost, Body: body, Reply: reply}
}

// MarshalJSON renders the variant's fields with the type tag first. The
// field order is fixed so json(data) is a stable input to block hashing.
func (d BlockData) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case DataGenesis:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{d.Type})
	case DataUser:
		return json.Marshal(struct {
			Type        string `json:"type"`
			DisplayName string `json:"display_name"`
			Username    string `json:"username"`
			Biography   string `json:"biography"`
		}{d.Type, d.DisplayName, d.Username, d.Biography})
	case DataUserUpdate:
		return json.Marshal(struct {
			Type        string `json:"type"`
			DisplayName string `json:"display_name"`
			Biography   string `json:"biography"`
		}{d.Type, d.DisplayName, d.Biography})
	case DataPost:
		return json.Marshal(struct {
			Type  string  `json:"type"`
			Body  string  `json:"body"`
			Reply *string `json:"reply"`
		}{d.Type, d.Body, d.Reply})
	}
	return nil, fmt.Errorf("unknown block data type %q", d.Type)
}

// UnmarshalJSON decodes any record variant by its type tag.
func (d *BlockData) UnmarshalJSON(raw []byte) error {
	var aux struct {
		Type        string  `json:"type"`
		DisplayName string  `json:"display_name"`
		Username    string  `json:"username"`
		Biography   string  `json:"biography"`
		Body        string  `json:"body"`
		Reply       *string `json:"reply"`
	}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	switch aux.Type {
	case DataGenesis, DataUser, DataUserUpdate, DataPost:
	default:
		return fmt.Errorf("unknown block data type %q", aux.Type)
	}
	*d = BlockData{
		Type:        aux.Type,
		DisplayName: aux.DisplayName,
		Username:    aux.Username,
		Biography:   aux.Biography,
		Body:        aux.Body,
		Reply:       aux.Reply,
	}
	return nil
}

// SigningString renders the payload as the byte string covered by the
// record signature: every field except the type tag, as key=<json-value>
// pairs sorted by key and joined with "|". Clients must reproduce this
// byte-for-byte when signing.
func (d BlockData) SigningString() string {
	raw, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	delete(fields, "type")

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + string(fields[k])
	}
	return strings.Join(parts, "|")
}

// Block is the immutable ledger record.
type Block struct {
	Index     uint64    `json:"index"`
	Timestamp uint64    `json:"timestamp"`
	Nonce     uint64    `json:"nonce"`
	Data      BlockData `json:"data"`
	PrevHash  string    `json:"prev_hash"`
	PublicKey string    `json:"public_key"`
	Signature string    `json:"signature"`
	Hash      string    `json:"hash"`
}

// NewBlock builds an unmined block at the given index and recomputes its
// hash.
func NewBlock(data BlockData, index uint64, prevHash string) *Block {
	b := &Block{
		Index:     index,
		Timestamp: uint64(time.Now().Unix()),
		Nonce:     0,
		Data:      data,
		PrevHash:  prevHash,
	}
	b.Hash = b.ComputeHash()
	return b
}

// Genesis returns the block at index 0. Its timestamp is pinned to zero so
// every node derives an identical genesis, the anchor replication requires.
func Genesis() *Block {
	b := &Block{
		Index:     0,
		Timestamp: 0,
		Nonce:     0,
		Data:      GenesisData(),
		PrevHash:  GenesisPrevHash,
	}
	b.Hash = b.ComputeHash()
	return b
}

// NextBlock builds the successor of prev carrying data.
func NextBlock(prev *Block, data BlockData) *Block {
	return NewBlock(data, prev.Index+1, prev.Hash)
}

// ComputeHash returns the lowercase hex SHA-256 over the string forms of
// index, timestamp, nonce, json(data), signature, public_key and prev_hash,
// in that order.
func (b *Block) ComputeHash() string {
	data, err := json.Marshal(b.Data)
	if err != nil {
		data = nil
	}
	h := sha256.New()
	h.Write([]byte(strconv.FormatUint(b.Index, 10)))
	h.Write([]byte(strconv.FormatUint(b.Timestamp, 10)))
	h.Write([]byte(strconv.FormatUint(b.Nonce, 10)))
	h.Write(data)
	h.Write([]byte(b.Signature))
	h.Write([]byte(b.PublicKey))
	h.Write([]byte(b.PrevHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Mine increments the nonce until the hash meets the difficulty target.
// Cancellation is checked every 4096 nonce candidates so shutdown is never
// stuck behind proof-of-work.
func (b *Block) Mine(ctx context.Context) error {
	target := strings.Repeat("0", Difficulty)
	b.Hash = b.ComputeHash()
	for !strings.HasPrefix(b.Hash, target) {
		if b.Nonce%4096 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		b.Nonce++
		b.Hash = b.ComputeHash()
	}
	return nil
}

// ValidateSignature checks the record signature over the payload's signing
// string. The signature covers only the data payload, not the block header.
func (b *Block) ValidateSignature() error {
	return ValidateSignature(b.PublicKey, b.Signature, []byte(b.Data.SigningString()))
}

// PendingBlock is a client-submitted record awaiting mining. It is validated
// on admission but not yet hash-linked.
type PendingBlock struct {
	Timestamp uint64    `json:"timestamp"`
	Data      BlockData `json:"data"`
	PublicKey string    `json:"public_key"`
	Signature string    `json:"signature"`
}

// NewPendingBlock stamps a pending record with the current time.
func NewPendingBlock(data BlockData, publicKey, signature string) PendingBlock {
	return PendingBlock{
		Timestamp: uint64(time.Now().Unix()),
		Data:      data,
		PublicKey: publicKey,
		Signature: signature,
	}
}

// ValidateSignature checks the record signature over the payload's signing
// string.
func (p PendingBlock) ValidateSignature() error {
	return ValidateSignature(p.PublicKey, p.Signature, []byte(p.Data.SigningString()))
}

// ValidateSize enforces the per-field limits of the record's variant.
func (p PendingBlock) ValidateSize() error {
	switch p.Data.Type {
	case DataUser:
		if utf8.RuneCountInString(p.Data.Username) > MaxUsernameLen {
			return errors.New("Username cannot exceed 255 characters.")
		}
		if utf8.RuneCountInString(p.Data.DisplayName) > MaxDisplayNameLen {
			return errors.New("Display name cannot exceed 255 characters.")
		}
		if utf8.RuneCountInString(p.Data.Biography) > MaxBiographyLen {
			return errors.New("Biography cannot exceed 300 characters.")
		}
	case DataUserUpdate:
		if utf8.RuneCountInString(p.Data.DisplayName) > MaxDisplayNameLen {
			return errors.New("Display name cannot exceed 255 characters.")
		}
		if utf8.RuneCountInString(p.Data.Biography) > MaxBiographyLen {
			return errors.New("Biography cannot exceed 300 characters.")
		}
	case DataPost:
		if utf8.RuneCountInString(p.Data.Body) > MaxBodyLen {
			return errors.New("Post body cannot exceed 300 characters.")
		}
	}
	return nil
}
