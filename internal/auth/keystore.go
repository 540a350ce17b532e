// Package auth validates API keys against a reloadable key store.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Principal identifies the owner of a valid key.
type Principal struct {
	Name string
}

// KeyStore answers whether an API key is valid.
type KeyStore interface {
	Valid(key string) (Principal, bool)
	// Reload re-reads the backing source. A failed reload keeps the
	// previous keys.
	Reload(ctx context.Context) error
}

type apiKey struct {
	name string
	key  []byte
}

// keyFile is the on-disk layout. JSON works too since it is valid YAML.
type keyFile struct {
	Keys []struct {
		Name     string `yaml:"name"`
		Key      string `yaml:"key"`
		Disabled bool   `yaml:"disabled"`
	} `yaml:"keys"`
}

// FileKeyStore serves keys loaded from a YAML file.
type FileKeyStore struct {
	path   string
	logger *slog.Logger

	mu   sync.RWMutex
	keys []apiKey
}

// NewFileKeyStore loads path and returns the store.
func NewFileKeyStore(ctx context.Context, path string, logger *slog.Logger) (*FileKeyStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("auth: key file path is empty")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &FileKeyStore{path: path, logger: logger}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the key file and swaps in the new keys.
func (s *FileKeyStore) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("auth: read key file: %w", err)
	}
	keys, err := parseKeys(data)
	if err != nil {
		s.logger.Warn("api key reload failed, keeping previous keys", "path", s.path, "error", err)
		return fmt.Errorf("auth: %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()
	s.logger.Info("api keys loaded", "path", s.path, "count", len(keys))
	return nil
}

// Valid reports whether key matches an enabled key. Every key is compared so
// the time taken does not depend on which one matched.
func (s *FileKeyStore) Valid(key string) (Principal, bool) {
	s.mu.RLock()
	keys := s.keys
	s.mu.RUnlock()
	return match(keys, key)
}

// Len returns the number of enabled keys.
func (s *FileKeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

func parseKeys(data []byte) ([]apiKey, error) {
	var f keyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	seen := map[string]bool{}
	out := make([]apiKey, 0, len(f.Keys))
	for i, k := range f.Keys {
		name := strings.TrimSpace(k.Name)
		if name == "" {
			name = fmt.Sprintf("key-%d", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate key name %q", name)
		}
		seen[name] = true
		if strings.TrimSpace(k.Key) == "" {
			return nil, fmt.Errorf("key %q is empty", name)
		}
		if k.Disabled {
			continue
		}
		out = append(out, apiKey{name: name, key: []byte(k.Key)})
	}
	return out, nil
}

func match(keys []apiKey, candidate string) (Principal, bool) {
	if candidate == "" {
		return Principal{}, false
	}
	c := []byte(candidate)
	var found Principal
	ok := false
	for _, k := range keys {
		if subtle.ConstantTimeCompare(k.key, c) == 1 && !ok {
			found, ok = Principal{Name: k.name}, true
		}
	}
	return found, ok
}

// StaticKeyStore is an in-memory KeyStore, handy in tests.
type StaticKeyStore struct {
	keys []apiKey
}

// NewStaticKeyStore maps principal names to keys.
func NewStaticKeyStore(keys map[string]string) *StaticKeyStore {
	s := &StaticKeyStore{}
	for name, key := range keys {
		s.keys = append(s.keys, apiKey{name: name, key: []byte(key)})
	}
	return s
}

func (s *StaticKeyStore) Valid(key string) (Principal, bool) { return match(s.keys, key) }

// Reload is a no-op.
func (s *StaticKeyStore) Reload(context.Context) error { return nil }
