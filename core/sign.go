package core

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Signature validation errors. Hex decode failures are wrapped with the
// underlying encoding error; the remaining cases are sentinels so callers
// can match with errors.Is.
var (
	ErrInvalidPublicKeyLength = errors.New("invalid public key length")
	ErrInvalidSignatureLength = errors.New("invalid signature length")
	ErrSignatureVerification  = errors.New("signature verification failed")
)

// Keypair bundles an Ed25519 signing key with its verifying key. Keypairs
// belong to clients; the node never persists them.
type Keypair struct {
	SigningKey   ed25519.PrivateKey
	VerifyingKey ed25519.PublicKey
}

// NewKeypair generates a fresh random keypair.
func NewKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{SigningKey: priv, VerifyingKey: pub}, nil
}

// SignMessage signs the message and returns the signature as 128 hex chars.
func (k *Keypair) SignMessage(message []byte) string {
	return hex.EncodeToString(ed25519.Sign(k.SigningKey, message))
}

// PublicKey returns the hex-encoded verifying key.
func (k *Keypair) PublicKey() string {
	return hex.EncodeToString(k.VerifyingKey)
}

// ValidateSignature verifies a hex-encoded Ed25519 signature over message.
// Point validation happens inside ed25519.Verify, which also rejects
// non-canonical signatures.
func ValidateSignature(publicKey, signature string, message []byte) error {
	pub, err := hex.DecodeString(publicKey)
	if err != nil {
		return fmt.Errorf("decode public key hex: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return ErrInvalidPublicKeyLength
	}

	sig, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature hex: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignatureLength
	}

	if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
		return ErrSignatureVerification
	}
	return nil
}
