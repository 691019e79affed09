package chat

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockConn is a channel-backed Conn for exercising the registry and router
// without a transport. Tests push into fromClient to simulate the peer and
// pop from fromServer to observe deliveries.
type mockConn struct {
	fromClient chan Envelope
	fromServer chan Envelope

	done      chan struct{}
	closeOnce sync.Once

	// failWrites makes every WriteEnvelope fail, simulating a dead sink.
	failWrites atomic.Bool
}

func newMockConn() *mockConn {
	return &mockConn{
		fromClient: make(chan Envelope, 16),
		fromServer: make(chan Envelope, 64),
		done:       make(chan struct{}),
	}
}

func (c *mockConn) ReadEnvelope() (Envelope, error) {
	select {
	case env := <-c.fromClient:
		return env, nil
	case <-c.done:
		return Envelope{}, ErrConnClosed
	}
}

func (c *mockConn) WriteEnvelope(env Envelope) error {
	if c.failWrites.Load() {
		return ErrConnClosed
	}
	select {
	case c.fromServer <- env:
		return nil
	case <-c.done:
		return ErrConnClosed
	}
}

func (c *mockConn) RemoteAddr() string { return "mock" }

func (c *mockConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// recv pops one delivered envelope, failing the test after a timeout so a
// missing push cannot hang the suite.
func (c *mockConn) recv(t *testing.T) Envelope {
	t.Helper()
	select {
	case env := <-c.fromServer:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an envelope")
		return Envelope{}
	}
}

// recvNone asserts that no envelope is pending for this connection.
func (c *mockConn) recvNone(t *testing.T) {
	t.Helper()
	select {
	case env := <-c.fromServer:
		t.Fatalf("unexpected envelope: %+v", env)
	default:
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
