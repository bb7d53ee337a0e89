package settings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// FileName is the settings file name inside the data directory.
const FileName = "settings.yaml"

// Store reads and writes the settings file and can watch it for edits made
// by other processes.
type Store struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	current Settings

	watcher *fsnotify.Watcher
}

// NewStore creates a settings store under dir, loading the file if present
// and falling back to defaults otherwise.
func NewStore(dir string, logger zerolog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create settings directory: %w", err)
	}

	s := &Store{
		path:   filepath.Join(dir, FileName),
		logger: logger.With().Str("component", "settings").Logger(),
	}

	loaded, err := s.readFile()
	if err != nil {
		return nil, err
	}
	s.current = loaded
	return s, nil
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Get returns the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Save validates and persists new settings.
func (s *Store) Save(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	// Write-then-rename so a concurrent reader never sees a torn file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace settings file: %w", err)
	}

	s.mu.Lock()
	s.current = settings
	s.mu.Unlock()
	return nil
}

// Watch reloads the settings whenever the file changes on disk, calling
// onChange with the new values. It returns once the watcher is installed
// and keeps running until ctx is cancelled.
func (s *Store) Watch(ctx context.Context, onChange func(Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// Watch the directory: editors replace the file by rename, which drops
	// a watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch settings directory: %w", err)
	}
	s.watcher = watcher

	go s.processEvents(ctx, onChange)
	return nil
}

func (s *Store) processEvents(ctx context.Context, onChange func(Settings)) {
	var reloadTimer *time.Timer
	reloadDelay := 200 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = s.watcher.Close()
			return

		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				s.reload(onChange)
			})

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error().Err(err).Msg("Settings watcher error")
		}
	}
}

func (s *Store) reload(onChange func(Settings)) {
	loaded, err := s.readFile()
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to reload settings, keeping previous values")
		return
	}

	s.mu.Lock()
	changed := loaded != s.current
	s.current = loaded
	s.mu.Unlock()

	if changed {
		s.logger.Info().Msg("Settings reloaded")
		if onChange != nil {
			onChange(loaded)
		}
	}
}

// readFile parses the settings file, applying defaults for a missing file
// and for fields the file omits.
func (s *Store) readFile() (Settings, error) {
	settings := Default()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := yaml.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings file: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}
