package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists credentials as a JSON object of username to
// password-hash in a single file. The whole file is rewritten on every
// registration through a temp-file rename, so a crash mid-write can never
// leave a truncated credential file behind.
type FileStore struct {
	path string

	mu    sync.Mutex
	users map[string]string
}

// NewFileStore opens the credential file at path, creating an empty store
// if the file does not exist yet.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, users: make(map[string]string)}

	buf, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	if err := json.Unmarshal(buf, &s.users); err != nil {
		return nil, fmt.Errorf("decode credential file %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Authenticate(username, password string) error {
	s.mu.Lock()
	hash, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		return ErrUserNotFound
	}
	return checkPassword(hash, password)
}

// Create registers the credential and rewrites the file. The store-wide
// mutex covers the whole load-modify-save sequence, so two concurrent
// registrations of one username cannot both succeed.
func (s *FileStore) Create(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return ErrUserExists
	}
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	s.users[username] = hash

	if err := s.saveLocked(); err != nil {
		delete(s.users, username)
		return err
	}
	return nil
}

// saveLocked writes the full user map to a temp file in the same directory
// and renames it over the credential file. Callers must hold s.mu.
func (s *FileStore) saveLocked() error {
	buf, err := json.Marshal(s.users)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".users-*.json")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credential file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
