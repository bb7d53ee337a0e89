package wireguard

import (
	"encoding/base64"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() failed: %v", err)
	}

	priv, err := base64.StdEncoding.DecodeString(kp.PrivateKey)
	if err != nil {
		t.Fatalf("private key is not valid base64: %v", err)
	}
	if len(priv) != 32 {
		t.Fatalf("private key length = %d, want 32", len(priv))
	}

	// Clamping per the X25519 convention.
	if priv[0]&7 != 0 {
		t.Error("low bits of private key not cleared")
	}
	if priv[31]&128 != 0 {
		t.Error("high bit of private key not cleared")
	}
	if priv[31]&64 == 0 {
		t.Error("second-highest bit of private key not set")
	}

	// The public key must be the X25519 base-point product of the private.
	want, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		t.Fatalf("X25519 failed: %v", err)
	}
	if got := base64.StdEncoding.EncodeToString(want); got != kp.PublicKey {
		t.Errorf("public key = %s, want %s", kp.PublicKey, got)
	}
}

func TestGenerateKeyPairUnique(t *testing.T) {
	a, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if a.PrivateKey == b.PrivateKey {
		t.Error("two generated key pairs share a private key")
	}
}

func TestValidKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"generated public key", kp.PublicKey, true},
		{"empty", "", false},
		{"not base64", "not-a-key!!", false},
		{"wrong length", base64.StdEncoding.EncodeToString([]byte("short")), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidKey(tt.key); got != tt.want {
				t.Errorf("ValidKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}
