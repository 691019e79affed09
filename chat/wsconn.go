package chat

import (
	"encoding/json"
	"sync"

	gows "github.com/gorilla/websocket"
)

// wsConn adapts a gorilla/websocket connection to the Conn interface so
// websocket clients speak the same envelope protocol. One websocket text
// message carries exactly one envelope; the websocket layer provides the
// framing that frameConn gets from the newline delimiter.
type wsConn struct {
	conn *gows.Conn

	sendMu    sync.Mutex
	closeOnce sync.Once
}

// NewWebsocketConn wraps an upgraded websocket connection.
func NewWebsocketConn(c *gows.Conn) Conn {
	return &wsConn{conn: c}
}

func (c *wsConn) ReadEnvelope() (Envelope, error) {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return Envelope{}, ErrConnClosed
		}

		switch typ {
		case gows.TextMessage:
			var env Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				return Envelope{}, ErrMalformed
			}
			return env, nil
		default:
			// Control and binary frames carry no envelopes.
			continue
		}
	}
}

func (c *wsConn) WriteEnvelope(env Envelope) error {
	buf, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.conn.WriteMessage(gows.TextMessage, buf); err != nil {
		return ErrConnClosed
	}
	return nil
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
	return nil
}
