package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

const serviceName = "wgforge"

// KeyringSecrets stores secrets in the operating system keyring.
type KeyringSecrets struct{}

// NewKeyringSecrets creates a system keyring backend.
func NewKeyringSecrets() *KeyringSecrets {
	return &KeyringSecrets{}
}

// Available probes whether the system keyring can actually store secrets.
func (k *KeyringSecrets) Available() bool {
	const probe = "wgforge-keyring-probe"
	if err := keyring.Set(serviceName, probe, "ok"); err != nil {
		return false
	}
	_ = keyring.Delete(serviceName, probe)
	return true
}

// Set stores a secret in the keyring.
func (k *KeyringSecrets) Set(key, value string) error {
	if err := keyring.Set(serviceName, key, value); err != nil {
		return fmt.Errorf("failed to write to system keyring: %w", err)
	}
	return nil
}

// Get retrieves a secret from the keyring.
func (k *KeyringSecrets) Get(key string) (string, error) {
	value, err := keyring.Get(serviceName, key)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read from system keyring: %w", err)
	}
	return value, nil
}

// Delete removes a secret from the keyring.
func (k *KeyringSecrets) Delete(key string) error {
	if err := keyring.Delete(serviceName, key); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete from system keyring: %w", err)
	}
	return nil
}

// FileSecrets stores secrets in an encrypted file. It is the fallback for
// headless machines where no keyring daemon runs. The encryption key is
// derived from machine identity, which keeps the file useless when copied
// off the machine but is not a substitute for a real keyring.
type FileSecrets struct {
	path string
	key  []byte

	mu     sync.Mutex
	values map[string]string
}

// NewFileSecrets creates a file-backed secrets store under dir.
func NewFileSecrets(dir string) (*FileSecrets, error) {
	if dir == "" {
		return nil, errors.New("directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secrets directory: %w", err)
	}

	f := &FileSecrets{
		path:   filepath.Join(dir, "credentials.enc"),
		key:    deriveKey(),
		values: make(map[string]string),
	}
	if err := f.loadFile(); err != nil {
		return nil, err
	}
	return f, nil
}

func deriveKey() []byte {
	hostname, _ := os.Hostname()
	machineID := "unknown"
	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		machineID = strings.TrimSpace(string(data))
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("wgforge-%s-%s-%d", hostname, machineID, os.Getuid())))
	return sum[:]
}

func (f *FileSecrets) loadFile() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read secrets file: %w", err)
	}
	plaintext, err := f.decrypt(data)
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets file: %w", err)
	}
	if err := json.Unmarshal(plaintext, &f.values); err != nil {
		return fmt.Errorf("failed to parse secrets file: %w", err)
	}
	return nil
}

func (f *FileSecrets) saveFile() error {
	plaintext, err := json.Marshal(f.values)
	if err != nil {
		return fmt.Errorf("failed to encode secrets: %w", err)
	}
	ciphertext, err := f.encrypt(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}
	if err := os.WriteFile(f.path, ciphertext, 0o600); err != nil {
		return fmt.Errorf("failed to write secrets file: %w", err)
	}
	return nil
}

// Set stores a secret and persists the file.
func (f *FileSecrets) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
	return f.saveFile()
}

// Get retrieves a secret.
func (f *FileSecrets) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Delete removes a secret and persists the file.
func (f *FileSecrets) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; !ok {
		return nil
	}
	delete(f.values, key)
	return f.saveFile()
}

func (f *FileSecrets) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(f.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(sealed)), nil
}

func (f *FileSecrets) decrypt(data []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(f.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}

// OpenDefault returns a Store on the system keyring when available, falling
// back to the encrypted file under dir.
func OpenDefault(dir string) (*Store, error) {
	kr := NewKeyringSecrets()
	if kr.Available() {
		return NewStore(kr)
	}
	fs, err := NewFileSecrets(dir)
	if err != nil {
		return nil, err
	}
	return NewStore(fs)
}
