package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStore writes objects under a directory and serves them back through
// Handler. Keys may contain slashes; only the base name is kept on disk.
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, publicBaseURL string) (*LocalStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("local storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/") + "/twilio/tts_audio",
	}, nil
}

func (s *LocalStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if err := checkPut(key, data); err != nil {
		return "", err
	}
	name := path.Base(key)
	if !validName(name) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return s.baseURL + "/" + name, nil
}

// Open returns the bytes stored under a bare file name. Names with path
// separators or dot segments are reported as not found.
func (s *LocalStore) Open(name string) ([]byte, error) {
	if !validName(name) {
		return nil, os.ErrNotExist
	}
	return os.ReadFile(filepath.Join(s.dir, name))
}

// ServeFile writes the named object as audio/mpeg, or 404.
func (s *LocalStore) ServeFile(w http.ResponseWriter, r *http.Request, name string) {
	data, err := s.Open(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	_, _ = w.Write(data)
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}
