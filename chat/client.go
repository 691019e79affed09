package chat

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
)

// Client drives one connection from the user's side: a blocking
// login/register handshake, then a receive loop and a send loop running
// concurrently. Presentation is plain text on out; in feeds the send loop.
type Client struct {
	conn     Conn
	username string

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to a chat server at addr.
func Dial(addr string) (*Client, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &Client{conn: NewConn(c), done: make(chan struct{})}, nil
}

// NewClient wraps an existing connection; used by tests.
func NewClient(conn Conn) *Client {
	return &Client{conn: conn, done: make(chan struct{})}
}

// Close tears down the connection and unblocks both loops.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}

// Login authenticates as username. On success the active user list from the
// response is returned.
func (c *Client) Login(username, password string) ([]string, error) {
	resp, err := c.roundTrip(Envelope{Command: CmdLogin, Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	if resp.Status != StatusSuccess {
		return nil, fmt.Errorf("login: %s", resp.Status)
	}
	c.username = username
	return resp.ActiveUsers, nil
}

// Register creates a new account. The caller still has to log in.
func (c *Client) Register(username, password string) error {
	resp, err := c.roundTrip(Envelope{Command: CmdRegister, Username: username, Password: password})
	if err != nil {
		return err
	}
	if resp.Status != StatusSuccess {
		return fmt.Errorf("register: %s", resp.Status)
	}
	return nil
}

// roundTrip is only safe before the receive loop starts; afterwards
// responses are consumed there.
func (c *Client) roundTrip(env Envelope) (Envelope, error) {
	if err := c.conn.WriteEnvelope(env); err != nil {
		return Envelope{}, err
	}
	return c.conn.ReadEnvelope()
}

// Run starts the receive and send loops and blocks until the connection
// ends. It must be called after a successful Login.
func (c *Client) Run(in io.Reader, out io.Writer) {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.receiveLoop(out)
	}()
	go func() {
		defer c.wg.Done()
		c.sendLoop(in, out)
	}()
	c.wg.Wait()
}

// receiveLoop prints pushes and command responses until the connection
// closes.
func (c *Client) receiveLoop(out io.Writer) {
	for {
		env, err := c.conn.ReadEnvelope()
		if err != nil {
			select {
			case <-c.done:
			default:
				fmt.Fprintln(out, "[INFO]: connection closed by server")
				c.Close()
			}
			return
		}

		switch env.Type {
		case PushPublic, PushDirect:
			fmt.Fprintf(out, "[%s] [SENT BY: %s]: %s\n", strings.ToUpper(env.Type), env.From, env.Message)
		case PushActiveUsers:
			fmt.Fprintf(out, "[ACTIVE USERS]: %s\n", strings.Join(env.ActiveUsers, ", "))
		default:
			fmt.Fprintf(out, "[SERVER]: %s\n", env.Status)
		}
	}
}

// sendLoop reads console commands: "pm <message>", "dm <user> <message>"
// and "ex".
func (c *Client) sendLoop(in io.Reader, out io.Writer) {
	fmt.Fprintln(out, "[INFO]: pm <message> | dm <user> <message> | ex")

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case <-c.done:
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, rest, _ := strings.Cut(line, " ")

		var env Envelope
		switch strings.ToLower(cmd) {
		case CmdExit:
			_ = c.conn.WriteEnvelope(Envelope{Command: CmdExit, Username: c.username})
			fmt.Fprintln(out, "[INFO]: exiting...")
			c.Close()
			return
		case CmdPublic:
			if rest == "" {
				fmt.Fprintln(out, "[INFO]: usage: pm <message>")
				continue
			}
			env = Envelope{Command: CmdPublic, Username: c.username, Message: rest}
		case CmdDirect:
			rcpt, msg, ok := strings.Cut(rest, " ")
			if !ok || rcpt == "" || msg == "" {
				fmt.Fprintln(out, "[INFO]: usage: dm <user> <message>")
				continue
			}
			env = Envelope{Command: CmdDirect, Username: c.username, Recipient: rcpt, Message: msg}
		default:
			fmt.Fprintln(out, "[INFO]: pm <message> | dm <user> <message> | ex")
			continue
		}

		if err := c.conn.WriteEnvelope(env); err != nil {
			if !errors.Is(err, ErrConnClosed) {
				fmt.Fprintf(out, "[INFO]: send failed: %v\n", err)
			}
			c.Close()
			return
		}
	}
	// stdin ended; leave cleanly so the server drops the session.
	_ = c.conn.WriteEnvelope(Envelope{Command: CmdExit, Username: c.username})
	c.Close()
}
