// Package store persists config entries between restarts.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"

	"github.com/daemonp/visonic2mqtt/internal/config"
)

var ErrNotFound = errors.New("entry not found")

type file struct {
	Entries []config.EntryConfig `yaml:"entries"`
}

type Store struct {
	path    string
	mu      sync.Mutex
	entries []config.EntryConfig
}

// Open loads the entries file at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read entries file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse entries file: %w", err)
	}
	for i := range f.Entries {
		if f.Entries[i].UpdateInterval == 0 {
			f.Entries[i].UpdateInterval = config.DefaultUpdateInterval
		}
	}
	s.entries = f.Entries
	return s, nil
}

func (s *Store) Entries() []config.EntryConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]config.EntryConfig(nil), s.entries...)
}

func (s *Store) Get(id string) (config.EntryConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return config.EntryConfig{}, fmt.Errorf("%s: %w", id, ErrNotFound)
}

// Add stores a new entry, assigning it an id, and returns it.
func (s *Store) Add(entry config.EntryConfig) (config.EntryConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = uuid.NewString()
	entries := append(append([]config.EntryConfig(nil), s.entries...), entry)
	if err := s.save(entries); err != nil {
		return config.EntryConfig{}, err
	}
	s.entries = entries
	return entry, nil
}

// Replace overwrites the entry with the same id.
func (s *Store) Replace(entry config.EntryConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append([]config.EntryConfig(nil), s.entries...)
	for i := range entries {
		if entries[i].ID == entry.ID {
			entries[i] = entry
			if err := s.save(entries); err != nil {
				return err
			}
			s.entries = entries
			return nil
		}
	}
	return fmt.Errorf("%s: %w", entry.ID, ErrNotFound)
}

func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]config.EntryConfig, 0, len(s.entries))
	for _, e := range s.entries {
		if e.ID != id {
			entries = append(entries, e)
		}
	}
	if len(entries) == len(s.entries) {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err := s.save(entries); err != nil {
		return err
	}
	s.entries = entries
	return nil
}

// save writes to a temp file and renames it over the target so a crash
// never leaves a truncated file behind.
func (s *Store) save(entries []config.EntryConfig) error {
	data, err := yaml.Marshal(file{Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to marshal entries: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create entries directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".entries-*.yml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write entries: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod entries: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close entries: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace entries file: %w", err)
	}
	return nil
}
