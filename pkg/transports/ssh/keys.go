package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KeyPair is a generated SSH key pair: the private key in OpenSSH PEM
// format and the public key in authorized_keys format.
type KeyPair struct {
	PrivateKeyPEM string
	PublicKey     string
}

// GenerateKeyPair creates an Ed25519 SSH key pair for providers that take
// an uploaded public key (DigitalOcean) rather than generating the pair
// server-side (EC2).
func GenerateKeyPair(comment string) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to build public key: %w", err)
	}

	authorized := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
	if comment != "" {
		authorized = authorized + " " + comment
	}

	return &KeyPair{
		PrivateKeyPEM: string(pem.EncodeToMemory(block)),
		PublicKey:     authorized,
	}, nil
}
