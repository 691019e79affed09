package chat

import "time"

// Session binds an authenticated username to its delivery sink. It is
// created by Registry.Register on a successful login and must not outlive
// its connection.
type Session struct {
	// Name is the authenticated username. Immutable for the session's
	// lifetime.
	Name string

	// Created orders sessions; it has no protocol meaning.
	Created time.Time

	conn Conn
}

// Send delivers one envelope to the session's client.
func (s *Session) Send(env Envelope) error {
	return s.conn.WriteEnvelope(env)
}

// Close tears down the session's transport, which also unblocks the
// connection's reader goroutine.
func (s *Session) Close() error {
	return s.conn.Close()
}
