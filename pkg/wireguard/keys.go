// Package wireguard generates tunnel key material, renders the server and
// client configuration documents, and provisions the tunnel software on a
// remote host over SSH.
package wireguard

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyPair is a Curve25519 key pair encoded the way the tunnel tooling
// expects: standard base64 of the raw 32-byte keys.
type KeyPair struct {
	PrivateKey string
	PublicKey  string
}

// GenerateKeyPair creates a fresh Curve25519 key pair for the local client.
// The server's pair is never generated here; it is created on the remote
// host during provisioning so the server private key never crosses the
// wire.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, fmt.Errorf("failed to read random bytes: %w", err)
	}

	// Clamp per the X25519 key convention.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}

	return &KeyPair{
		PrivateKey: base64.StdEncoding.EncodeToString(priv[:]),
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
	}, nil
}

// ValidKey reports whether s is a well-formed base64 32-byte key.
func ValidKey(s string) bool {
	raw, err := base64.StdEncoding.DecodeString(s)
	return err == nil && len(raw) == 32
}
