package chat

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// CredentialStore persists username to password-hash mappings. Create must
// be atomic with respect to concurrent Create calls for the same username:
// exactly one of them may succeed. Implementations never store or return
// plaintext passwords.
type CredentialStore interface {
	// Authenticate verifies the password for username. It fails with
	// ErrUserNotFound for an unknown username and ErrBadPassword for a
	// mismatch, and the two are never conflated.
	Authenticate(username, password string) error

	// Create registers a new credential, failing with ErrUserExists when
	// the username is taken. The existing credential is left untouched on
	// failure.
	Create(username, password string) error

	Close() error
}

func hashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func checkPassword(hash, password string) error {
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrBadPassword
	}
	return nil
}

// MemoryStore keeps credentials in memory. It backs tests and throwaway
// servers; nothing survives a restart.
type MemoryStore struct {
	mu    sync.Mutex
	users map[string]string // username -> bcrypt hash
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]string)}
}

func (s *MemoryStore) Authenticate(username, password string) error {
	s.mu.Lock()
	hash, ok := s.users[username]
	s.mu.Unlock()
	if !ok {
		return ErrUserNotFound
	}
	return checkPassword(hash, password)
}

func (s *MemoryStore) Create(username, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return ErrUserExists
	}
	s.users[username] = hash
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
