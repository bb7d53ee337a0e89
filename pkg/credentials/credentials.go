// Package credentials stores provider API credentials. Secrets live in the
// system keyring when one is available, with an encrypted file fallback for
// headless machines.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no credentials are stored for a provider.
var ErrNotFound = errors.New("credentials not found")

// AWS holds an AWS access key pair.
type AWS struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// Validate checks that both key fields are present.
func (a AWS) Validate() error {
	if strings.TrimSpace(a.AccessKeyID) == "" {
		return errors.New("access key ID is required")
	}
	if strings.TrimSpace(a.SecretAccessKey) == "" {
		return errors.New("secret access key is required")
	}
	return nil
}

// DigitalOcean holds a DigitalOcean API token.
type DigitalOcean struct {
	APIToken string `json:"api_token"`
}

// Validate checks that the token is present.
func (d DigitalOcean) Validate() error {
	if strings.TrimSpace(d.APIToken) == "" {
		return errors.New("API token is required")
	}
	return nil
}

// Secrets is the raw key/value backend behind a Store. Implementations are
// the system keyring and an encrypted local file.
type Secrets interface {
	// Set stores a secret under key.
	Set(key, value string) error

	// Get retrieves a secret; ErrNotFound when the key is absent.
	Get(key string) (string, error)

	// Delete removes a secret. Deleting an absent key is not an error.
	Delete(key string) error
}

const (
	awsKey          = "aws"
	digitalOceanKey = "digitalocean"
)

// Store persists provider credentials on a Secrets backend.
type Store struct {
	secrets Secrets
}

// NewStore creates a credential store over the given backend.
func NewStore(secrets Secrets) (*Store, error) {
	if secrets == nil {
		return nil, errors.New("secrets backend is required")
	}
	return &Store{secrets: secrets}, nil
}

// SaveAWS stores AWS credentials.
func (s *Store) SaveAWS(creds AWS) error {
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("invalid AWS credentials: %w", err)
	}
	return s.save(awsKey, creds)
}

// LoadAWS retrieves stored AWS credentials.
func (s *Store) LoadAWS() (AWS, error) {
	var creds AWS
	if err := s.load(awsKey, &creds); err != nil {
		return AWS{}, err
	}
	return creds, nil
}

// DeleteAWS removes stored AWS credentials.
func (s *Store) DeleteAWS() error {
	return s.secrets.Delete(awsKey)
}

// SaveDigitalOcean stores DigitalOcean credentials.
func (s *Store) SaveDigitalOcean(creds DigitalOcean) error {
	if err := creds.Validate(); err != nil {
		return fmt.Errorf("invalid DigitalOcean credentials: %w", err)
	}
	return s.save(digitalOceanKey, creds)
}

// LoadDigitalOcean retrieves stored DigitalOcean credentials.
func (s *Store) LoadDigitalOcean() (DigitalOcean, error) {
	var creds DigitalOcean
	if err := s.load(digitalOceanKey, &creds); err != nil {
		return DigitalOcean{}, err
	}
	return creds, nil
}

// DeleteDigitalOcean removes stored DigitalOcean credentials.
func (s *Store) DeleteDigitalOcean() error {
	return s.secrets.Delete(digitalOceanKey)
}

func (s *Store) save(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := s.secrets.Set(key, string(data)); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}
	return nil
}

func (s *Store) load(key string, v any) error {
	raw, err := s.secrets.Get(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to decode credentials: %w", err)
	}
	return nil
}
