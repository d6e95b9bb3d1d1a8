// Package file provides a file-based store implementation for local
// development and tests.
package file

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"

	"github.com/voyagent/voyagent/pkg/persistence"
)

// Store implements persistence.Store on the local filesystem. Each key maps
// to one file under the root directory.
type Store struct {
	root string
}

// NewStore creates a file store rooted at the given directory, creating it
// if needed. Accepts plain paths and file:// URLs.
func NewStore(root string) (*Store, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	if err := os.MkdirAll(cleanRoot, 0o755); err != nil {
		return nil, persistence.NewStoreError("Init", cleanRoot, err)
	}

	return &Store{root: cleanRoot}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, persistence.ErrKeyNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("Get", key, err)
	}

	return data, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	tmp := s.path(key) + ".tmp"

	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return persistence.NewStoreError("Set", key, err)
	}

	if err := os.Rename(tmp, s.path(key)); err != nil {
		return persistence.NewStoreError("Set", key, err)
	}

	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return persistence.ErrKeyNotFound
	}

	if err != nil {
		return persistence.NewStoreError("Delete", key, err)
	}

	return nil
}

func (s *Store) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (s *Store) Close(_ context.Context) error {
	return nil
}

// path maps a key to a file name. Keys are hex-encoded so arbitrary key
// strings cannot escape the root directory.
func (s *Store) path(key string) string {
	return filepath.Join(s.root, hex.EncodeToString([]byte(key))+".json")
}
