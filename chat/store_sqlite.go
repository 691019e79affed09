package chat

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

// SQLiteStore persists credentials in a SQLite database.
type SQLiteStore struct {
	db *sql.DB

	// mu serializes Create so the exists-check and insert form one
	// store-wide critical section.
	mu sync.Mutex
}

// NewSQLiteStore opens (and if needed initializes) the database at
// dataSourceName.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open credential database: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS users (
		username      TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init users table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Authenticate(username, password string) error {
	var hash string
	err := s.db.QueryRow(
		`SELECT password_hash FROM users WHERE username = ?`, username,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("query credential: %w", err)
	}
	return checkPassword(hash, password)
}

func (s *SQLiteStore) Create(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRow(
		`SELECT 1 FROM users WHERE username = ?`, username,
	).Scan(&exists)
	if err == nil {
		return ErrUserExists
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("query credential: %w", err)
	}

	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(
		`INSERT INTO users(username, password_hash) VALUES(?, ?)`,
		username, hash,
	); err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
