package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrCorrupt signals that the persisted record could not be decoded. Load
// still returns a usable not-deployed record alongside it so application
// boot never fails on a damaged state file; callers surface the warning
// instead of silently fabricating a clean state.
var ErrCorrupt = errors.New("deployment state is corrupt")

// ErrClaimConflict signals that Claim found a persisted status different
// from the one the caller observed, meaning another process changed the
// record in between.
var ErrClaimConflict = errors.New("deployment status changed by another process")

// Store is the deployment state store contract. Save must be atomic: a
// concurrent reader never observes a partially written record. Save is
// called after every individual pipeline step, not once at the end.
type Store interface {
	// Load returns the current record, or the not-deployed record when none
	// has been saved. On a corrupt on-disk record it returns the
	// not-deployed record together with an error wrapping ErrCorrupt.
	Load() (*Record, error)

	// Save atomically replaces the whole record.
	Save(*Record) error

	// Claim atomically replaces the record, but only if the persisted
	// status still equals from; otherwise it returns an error wrapping
	// ErrClaimConflict. Operations use it to set deploying/destroying so
	// two processes cannot both win the exclusion flag.
	Claim(rec *Record, from Status) error

	// Reset clears the store back to the not-deployed record.
	Reset() error

	Close() error
}

// DefaultDir returns the per-user data directory (~/.wgforge), creating it
// if needed.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot find home directory: %w", err)
	}
	dir := filepath.Join(home, ".wgforge")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// SaveClientConfig writes the rendered client tunnel configuration next to
// the state database so the connection controller and export command can
// reach it without going through the record.
func SaveClientConfig(dir, config string) (string, error) {
	path := filepath.Join(dir, "client.conf")
	if err := os.WriteFile(path, []byte(config), 0o600); err != nil {
		return "", fmt.Errorf("failed to write client config: %w", err)
	}
	return path, nil
}

// ClientConfigPath returns the location of the exported client config.
func ClientConfigPath(dir string) string {
	return filepath.Join(dir, "client.conf")
}

// RecoverResult describes what startup recovery changed, if anything.
type RecoverResult struct {
	Changed bool
	Note    string
}

// Recover repairs a record left behind by a process that died mid-operation.
// A stuck "deploying" record becomes "failed" so the user can retry or
// destroy; a stuck "destroying" record becomes "deployed" (resources may
// still exist) with its auto-destroy deadline cleared so the timer cannot
// fire against half-removed infrastructure.
func Recover(store Store) (RecoverResult, error) {
	rec, err := store.Load()
	if err != nil && !errors.Is(err, ErrCorrupt) {
		return RecoverResult{}, err
	}
	if errors.Is(err, ErrCorrupt) {
		if resetErr := store.Reset(); resetErr != nil {
			return RecoverResult{}, resetErr
		}
		return RecoverResult{
			Changed: true,
			Note:    "state file was unreadable and has been reset; any existing resources must be cleaned up manually",
		}, nil
	}

	switch rec.Status {
	case StatusDeploying:
		rec.Status = StatusFailed
		rec.ErrorMessage = "the deployment was interrupted; retry the deploy or destroy the partial infrastructure"
		if err := store.Save(rec); err != nil {
			return RecoverResult{}, err
		}
		return RecoverResult{Changed: true, Note: "interrupted deploy marked as failed"}, nil
	case StatusDestroying:
		rec.Status = StatusDeployed
		rec.AutoDestroyAt = nil
		rec.ErrorMessage = "a previous destroy was interrupted; the server may still be running, destroy it again"
		if err := store.Save(rec); err != nil {
			return RecoverResult{}, err
		}
		return RecoverResult{Changed: true, Note: "interrupted destroy rolled back to deployed"}, nil
	}
	return RecoverResult{}, nil
}
