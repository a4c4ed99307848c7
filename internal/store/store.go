// Package store persists the relay's adapter selections and destinations
// between daemon runs.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Persistence loads and saves the two selection lists. Order is not
// significant. Implementations must be safe for concurrent use.
type Persistence interface {
	SaveAdapterSelections(adapters []string) error
	SaveDestinations(destinations []string) error
	LoadAdapterSelections() ([]string, error)
	LoadDestinations() ([]string, error)
}

// Selections is the on-disk document.
type Selections struct {
	Version      string   `yaml:"version"`
	Adapters     []string `yaml:"adapters"`
	Destinations []string `yaml:"destinations"`
}

const selectionsVersion = "v1"

// FileStore keeps Selections in one YAML file. Writes go to a temp file in
// the same directory that is then renamed over the target.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path, creating its directory.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("store: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("store: create directory for %q: %w", path, err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string { return s.path }

// SaveAdapterSelections replaces the stored adapter names.
func (s *FileStore) SaveAdapterSelections(adapters []string) error {
	return s.update(func(sel *Selections) { sel.Adapters = adapters })
}

// SaveDestinations replaces the stored destination addresses.
func (s *FileStore) SaveDestinations(destinations []string) error {
	return s.update(func(sel *Selections) { sel.Destinations = destinations })
}

// LoadAdapterSelections returns the stored adapter names. A missing file
// yields an empty list.
func (s *FileStore) LoadAdapterSelections() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.read()
	return sel.Adapters, err
}

// LoadDestinations returns the stored destination addresses. A missing file
// yields an empty list.
func (s *FileStore) LoadDestinations() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, err := s.read()
	return sel.Destinations, err
}

func (s *FileStore) update(fn func(*Selections)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.read()
	if err != nil {
		return err
	}
	fn(&sel)
	return s.write(sel)
}

func (s *FileStore) read() (Selections, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Selections{}, nil
		}
		return Selections{}, fmt.Errorf("store: read %q: %w", s.path, err)
	}
	var sel Selections
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return Selections{}, fmt.Errorf("store: decode %q: %w", s.path, err)
	}
	return sel, nil
}

func (s *FileStore) write(sel Selections) error {
	sel.Version = selectionsVersion
	if sel.Adapters == nil {
		sel.Adapters = []string{}
	}
	if sel.Destinations == nil {
		sel.Destinations = []string{}
	}

	data, err := yaml.Marshal(&sel)
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("store: rename temp to %q: %w", s.path, err)
	}

	slog.Debug("selections persisted", "path", s.path,
		"adapters", len(sel.Adapters), "destinations", len(sel.Destinations))
	return nil
}

// NopStore persists nothing. It is used when persistence is disabled.
type NopStore struct{}

func (NopStore) SaveAdapterSelections([]string) error     { return nil }
func (NopStore) SaveDestinations([]string) error          { return nil }
func (NopStore) LoadAdapterSelections() ([]string, error) { return nil, nil }
func (NopStore) LoadDestinations() ([]string, error)      { return nil, nil }

var (
	_ Persistence = (*FileStore)(nil)
	_ Persistence = NopStore{}
)
