// Package artifacts persists JSON artifacts (attestations, consensus round
// archives, performance reports) under a stable artifacts/ namespace
// subdivided by domain.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Store writes and reads JSON artifacts below a root directory.
type Store struct {
	mu   sync.Mutex
	root string
}

// NewStore creates a store rooted at dir. The directory is created lazily.
func NewStore(dir string) *Store {
	return &Store{root: dir}
}

// Path returns the absolute path an artifact would be stored at.
func (s *Store) Path(domain, name string) string {
	return filepath.Join(s.root, domain, name)
}

// SaveJSON writes v as indented JSON under domain/name and returns the path.
// The write goes through a temp file and rename so readers never observe a
// partial artifact.
func (s *Store) SaveJSON(domain, name string, v any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, domain)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifacts: mkdir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("artifacts: marshal %s/%s: %w", domain, name, err)
	}

	path := filepath.Join(dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("artifacts: rename %s: %w", path, err)
	}
	return path, nil
}

// SaveRaw writes raw bytes under domain/name.
func (s *Store) SaveRaw(domain, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.root, domain)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("artifacts: mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: write %s: %w", path, err)
	}
	return path, nil
}

// LoadJSON reads the artifact at domain/name into v.
func (s *Store) LoadJSON(domain, name string, v any) error {
	data, err := os.ReadFile(s.Path(domain, name))
	if err != nil {
		return fmt.Errorf("artifacts: read %s/%s: %w", domain, name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("artifacts: unmarshal %s/%s: %w", domain, name, err)
	}
	return nil
}

// Exists reports whether an artifact is present.
func (s *Store) Exists(domain, name string) bool {
	_, err := os.Stat(s.Path(domain, name))
	return err == nil
}

// List returns the artifact names in a domain, sorted, excluding temp files.
func (s *Store) List(domain string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, domain))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("artifacts: list %s: %w", domain, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
