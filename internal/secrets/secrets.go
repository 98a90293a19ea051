// Package secrets reads credentials from mounted secret files, one file per
// key, as Kubernetes and Docker secrets are laid out.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
)

// ErrEmpty is returned for a secret file that holds only whitespace.
var ErrEmpty = errors.New("secret is empty")

// FileSource resolves a secret name to the trimmed contents of the file of
// that name. Values are cached after the first successful read.
type FileSource struct {
	fsys fs.FS

	mu    sync.Mutex
	cache map[string]string
}

// NewFileSource reads secrets from files in dir.
func NewFileSource(dir string) *FileSource {
	return NewFSSource(os.DirFS(dir))
}

// NewFSSource reads secrets from fsys.
func NewFSSource(fsys fs.FS) *FileSource {
	return &FileSource{
		fsys:  fsys,
		cache: make(map[string]string),
	}
}

// Secret returns the value stored under name.
func (s *FileSource) Secret(_ context.Context, name string) (string, error) {
	if !fs.ValidPath(name) || strings.Contains(name, "/") {
		return "", fmt.Errorf("invalid secret name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if value, ok := s.cache[name]; ok {
		return value, nil
	}

	data, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		return "", fmt.Errorf("reading secret %q: %w", name, err)
	}

	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("secret %q: %w", name, ErrEmpty)
	}

	s.cache[name] = value
	return value, nil
}

// Static serves fixed values, for local development and tests.
type Static map[string]string

// Secret returns the value stored under name.
func (s Static) Secret(_ context.Context, name string) (string, error) {
	value, ok := s[name]
	if !ok || value == "" {
		return "", fmt.Errorf("secret %q: %w", name, fs.ErrNotExist)
	}
	return value, nil
}
