package crypto

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := NewBox(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}

	blob, err := box.Seal([]byte("super-secret"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	out, err := box.Open(blob)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(out) != "super-secret" {
		t.Fatalf("expected original plaintext, got %q", out)
	}
}

func TestOpenRejectsTamperedBlob(t *testing.T) {
	box, err := NewBox(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	blob, err := box.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if _, err := box.Open(blob + "x"); err == nil {
		t.Fatal("expected error for tampered blob")
	}
	if _, err := box.Open("no-dot-separator"); err == nil {
		t.Fatal("expected error for malformed blob")
	}

	other, err := NewBox(bytes.Repeat([]byte{9}, 32))
	if err != nil {
		t.Fatalf("new box: %v", err)
	}
	if _, err := other.Open(blob); err == nil {
		t.Fatal("expected error for wrong key")
	}
}

func TestNewBoxRejectsBadKey(t *testing.T) {
	if _, err := NewBox([]byte("short")); err == nil {
		t.Fatal("expected error for short key")
	}
}
