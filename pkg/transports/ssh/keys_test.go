package ssh

import (
	"strings"
	"testing"

	"golang.org/x/crypto/ssh"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair("vpn-key")
	if err != nil {
		t.Fatalf("GenerateKeyPair() failed: %v", err)
	}

	// Private key parses back into a usable signer.
	signer, err := ssh.ParsePrivateKey([]byte(kp.PrivateKeyPEM))
	if err != nil {
		t.Fatalf("generated private key does not parse: %v", err)
	}

	// Public key is authorized_keys format and matches the private key.
	if !strings.HasPrefix(kp.PublicKey, "ssh-ed25519 ") {
		t.Errorf("public key = %q, want ssh-ed25519 prefix", kp.PublicKey)
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(kp.PublicKey))
	if err != nil {
		t.Fatalf("generated public key does not parse: %v", err)
	}
	if string(pub.Marshal()) != string(signer.PublicKey().Marshal()) {
		t.Error("public key does not match the private key")
	}
}

func TestGenerateKeyPairUnique(t *testing.T) {
	a, err := GenerateKeyPair("")
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateKeyPair("")
	if err != nil {
		t.Fatal(err)
	}
	if a.PrivateKeyPEM == b.PrivateKeyPEM {
		t.Error("two generated key pairs are identical")
	}
}
