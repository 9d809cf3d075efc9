package utils

import (
	"errors"
	"testing"
)

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("QUILL_TEST_KEY", "value")
	if got := EnvOrDefault("QUILL_TEST_KEY", "fallback"); got != "value" {
		t.Fatalf("got %q, want value", got)
	}
	if got := EnvOrDefault("QUILL_TEST_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("got %q, want fallback", got)
	}
}

func TestEnvOrDefaultInt(t *testing.T) {
	t.Setenv("QUILL_TEST_INT", "42")
	if got := EnvOrDefaultInt("QUILL_TEST_INT", 7); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
	t.Setenv("QUILL_TEST_INT", "not-a-number")
	if got := EnvOrDefaultInt("QUILL_TEST_INT", 7); got != 7 {
		t.Fatalf("got %d, want fallback 7", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Fatal("wrapping nil should return nil")
	}
	base := errors.New("boom")
	wrapped := Wrap(base, "context")
	if !errors.Is(wrapped, base) {
		t.Fatal("wrapped error should match base via errors.Is")
	}
}
