// Package storage provides the durable key-path stores used for checkpoints.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned by Get when no value exists at a path.
var ErrNotFound = errors.New("not found")

// Store is a durable key-path store. Paths are slash-separated and relative.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put writes data at p, replacing any previous value.
	Put(ctx context.Context, p string, data []byte) error
	// Get reads the value at p, or returns ErrNotFound.
	Get(ctx context.Context, p string) ([]byte, error)
	// List returns every stored path starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	// RemoveAll deletes every stored path starting with prefix. Removing
	// nothing is not an error.
	RemoveAll(ctx context.Context, prefix string) error
}

// cleanPath validates a store path and returns its canonical form.
func cleanPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("path %q must be relative", p)
	}
	cleaned := path.Clean(p)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path %q escapes the store", p)
	}
	return cleaned, nil
}

// cleanPrefix validates a prefix. An empty prefix matches everything.
// A trailing slash is preserved so "a/" does not match "ab".
func cleanPrefix(prefix string) (string, error) {
	if prefix == "" {
		return "", nil
	}
	cleaned, err := cleanPath(prefix)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(prefix, "/") {
		cleaned += "/"
	}
	return cleaned, nil
}
