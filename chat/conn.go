package chat

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"sync"
)

// maxFrameSize caps a single envelope on the wire. A peer that exceeds it is
// not recoverable because the frame boundary is lost.
const maxFrameSize = 64 * 1024

// Conn is one framed, bidirectional connection to a peer. ReadEnvelope
// blocks until a complete envelope is available and fails with
// ErrConnClosed once the peer is gone or ErrMalformed when a frame cannot
// be decoded. WriteEnvelope is safe for concurrent use.
type Conn interface {
	ReadEnvelope() (Envelope, error)
	WriteEnvelope(Envelope) error
	RemoteAddr() string
	Close() error
}

// frameConn frames envelopes over a stream transport as one JSON object per
// newline-terminated line. TCP has no message boundaries of its own, so the
// delimiter is what keeps partial or coalesced reads from splitting or
// merging envelopes.
type frameConn struct {
	conn net.Conn
	scan *bufio.Scanner

	// sendMu synchronizes writes; pushes and responses for one peer may
	// originate from different goroutines.
	sendMu    sync.Mutex
	closeOnce sync.Once
}

// NewConn wraps a stream connection with envelope framing.
func NewConn(c net.Conn) Conn {
	scan := bufio.NewScanner(c)
	scan.Buffer(make([]byte, 0, 4096), maxFrameSize)
	return &frameConn{conn: c, scan: scan}
}

func (c *frameConn) ReadEnvelope() (Envelope, error) {
	var env Envelope

	for c.scan.Scan() {
		line := bytes.TrimSpace(c.scan.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &env); err != nil {
			return Envelope{}, ErrMalformed
		}
		return env, nil
	}

	if err := c.scan.Err(); errors.Is(err, bufio.ErrTooLong) {
		// The frame boundary is lost, so the connection cannot recover.
		c.Close()
		return Envelope{}, ErrMalformed
	}
	return Envelope{}, ErrConnClosed
}

func (c *frameConn) WriteEnvelope(env Envelope) error {
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}
	buf = append(buf, '\n')

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if _, err := c.conn.Write(buf); err != nil {
		return ErrConnClosed
	}
	return nil
}

func (c *frameConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Close shuts the transport down, unblocking any pending ReadEnvelope.
// Safe to call multiple times.
func (c *frameConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
	return nil
}
