package core

import (
	"errors"
	"strings"
	"testing"
)

//-------------------------------------------------------------
// Sign / verify round trip
//-------------------------------------------------------------

func TestSignatureRoundTrip(t *testing.T) {
	kp, err := NewKeypair()
	if err != nil {
		t.Fatalf("keypair: %v", err)
	}

	msg := []byte("body=\"hello\"|reply=null")
	sig := kp.SignMessage(msg)
	if len(sig) != 128 {
		t.Fatalf("signature hex length = %d, want 128", len(sig))
	}
	if len(kp.PublicKey()) != 64 {
		t.Fatalf("public key hex length = %d, want 64", len(kp.PublicKey()))
	}

	if err := ValidateSignature(kp.PublicKey(), sig, msg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestSignatureTamperedMessage(t *testing.T) {
	kp, _ := NewKeypair()
	sig := kp.SignMessage([]byte("original"))

	err := ValidateSignature(kp.PublicKey(), sig, []byte("tampered"))
	if !errors.Is(err, ErrSignatureVerification) {
		t.Fatalf("err = %v, want ErrSignatureVerification", err)
	}
}

func TestSignatureForeignKey(t *testing.T) {
	alice, _ := NewKeypair()
	mallory, _ := NewKeypair()

	msg := []byte("message")
	sig := mallory.SignMessage(msg)

	if err := ValidateSignature(alice.PublicKey(), sig, msg); err == nil {
		t.Fatal("signature from a different key should not validate")
	}
}

//-------------------------------------------------------------
// Malformed inputs
//-------------------------------------------------------------

func TestValidateSignatureMalformed(t *testing.T) {
	kp, _ := NewKeypair()
	msg := []byte("message")
	sig := kp.SignMessage(msg)

	tests := []struct {
		name      string
		publicKey string
		signature string
		want      error
	}{
		{"ShortPublicKey", "abcd", sig, ErrInvalidPublicKeyLength},
		{"ShortSignature", kp.PublicKey(), "abcd", ErrInvalidSignatureLength},
		{"LongSignature", kp.PublicKey(), sig + "00", ErrInvalidSignatureLength},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateSignature(tc.publicKey, tc.signature, msg)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidateSignatureBadHex(t *testing.T) {
	kp, _ := NewKeypair()
	msg := []byte("message")
	sig := kp.SignMessage(msg)

	if err := ValidateSignature("zz"+kp.PublicKey()[2:], sig, msg); err == nil ||
		!strings.Contains(err.Error(), "decode public key hex") {
		t.Fatalf("err = %v, want public key hex decode error", err)
	}
	if err := ValidateSignature(kp.PublicKey(), "zz"+sig[2:], msg); err == nil ||
		!strings.Contains(err.Error(), "decode signature hex") {
		t.Fatalf("err = %v, want signature hex decode error", err)
	}
}
