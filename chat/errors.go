package chat

import "errors"

var (
	// ErrConnClosed reports that the peer is gone, either because it closed
	// the connection or because the transport failed.
	ErrConnClosed = errors.New("connection closed")

	// ErrMalformed reports a frame that could not be decoded into an
	// envelope.
	ErrMalformed = errors.New("malformed message")

	// ErrAlreadyActive reports a registration attempt for a username that
	// already has a live session.
	ErrAlreadyActive = errors.New("username already active")

	// ErrUserNotFound reports an unknown username in the credential store.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserExists reports a registration for a username that is taken.
	ErrUserExists = errors.New("username already registered")

	// ErrBadPassword reports a password that does not match the stored hash.
	ErrBadPassword = errors.New("password mismatch")
)
