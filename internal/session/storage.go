package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/patrickmn/go-cache"
)

// Storage is a string key-value store for the session keys.
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
	// Flush makes the current contents durable.
	Flush() error
}

// FileStorage keeps values in memory and writes them to a JSON file on
// Flush. An empty path keeps everything in memory.
type FileStorage struct {
	path  string
	items *cache.Cache
}

// NewFileStorage opens the storage file at path, creating it on the first
// Flush if it does not exist.
func NewFileStorage(path string) (*FileStorage, error) {
	fs := &FileStorage{
		path:  path,
		items: cache.New(cache.NoExpiration, 0),
	}
	if path == "" {
		return fs, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse session file %s: %w", path, err)
	}
	for k, v := range values {
		fs.items.Set(k, v, cache.NoExpiration)
	}
	return fs, nil
}

// Get implements Storage.
func (f *FileStorage) Get(key string) (string, bool) {
	v, ok := f.items.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set implements Storage.
func (f *FileStorage) Set(key, value string) {
	f.items.Set(key, value, cache.NoExpiration)
}

// Delete implements Storage.
func (f *FileStorage) Delete(key string) {
	f.items.Delete(key)
}

// Flush implements Storage.
func (f *FileStorage) Flush() error {
	if f.path == "" {
		return nil
	}

	values := make(map[string]string, f.items.ItemCount())
	for k, item := range f.items.Items() {
		if s, ok := item.Object.(string); ok {
			values[k] = s
		}
	}
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}
