package chat

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs a server on an ephemeral port with an in-memory
// credential store pre-seeded with users, and tears it down with the test.
func startServer(t *testing.T, users map[string]string) *Server {
	t.Helper()

	store := NewMemoryStore()
	for name, pw := range users {
		require.NoError(t, store.Create(name, pw))
	}

	srv := NewServer(Config{
		Addr:          "127.0.0.1:0",
		ShutdownGrace: time.Second,
	}, store, discardLogger(), nil)
	require.NoError(t, srv.Listen())
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv
}

// testClient is one framed connection to the test server.
type testClient struct {
	t    *testing.T
	conn Conn
}

func dialServer(t *testing.T, srv *Server) *testClient {
	t.Helper()
	c, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	tc := &testClient{t: t, conn: NewConn(c)}
	t.Cleanup(func() { tc.conn.Close() })
	return tc
}

func (c *testClient) send(env Envelope) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteEnvelope(env))
}

func (c *testClient) recv() Envelope {
	c.t.Helper()
	type result struct {
		env Envelope
		err error
	}
	ch := make(chan result, 1)
	go func() {
		env, err := c.conn.ReadEnvelope()
		ch <- result{env, err}
	}()
	select {
	case r := <-ch:
		require.NoError(c.t, r.err)
		return r.env
	case <-time.After(2 * time.Second):
		c.t.Fatal("timed out waiting for an envelope")
		return Envelope{}
	}
}

func (c *testClient) login(name, pw string) Envelope {
	c.t.Helper()
	c.send(Envelope{Command: CmdLogin, Username: name, Password: pw})
	return c.recv()
}

func TestServerRegisterThenLogin(t *testing.T) {
	srv := startServer(t, nil)
	alice := dialServer(t, srv)

	alice.send(Envelope{Command: CmdRegister, Username: "alice", Password: "pw1"})
	assert.Equal(t, StatusSuccess, alice.recv().Status)

	resp := alice.login("alice", "pw1")
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, []string{"alice"}, resp.ActiveUsers)
}

func TestServerLoginFailures(t *testing.T) {
	srv := startServer(t, map[string]string{"alice": "pw1"})

	c := dialServer(t, srv)
	assert.Equal(t, StatusUserNotFound, c.login("ghost", "pw").Status)
	assert.Equal(t, StatusFailed, c.login("alice", "wrong").Status)
}

func TestServerDuplicateRegister(t *testing.T) {
	srv := startServer(t, map[string]string{"alice": "pw1"})
	c := dialServer(t, srv)

	c.send(Envelope{Command: CmdRegister, Username: "alice", Password: "pw2"})
	assert.Equal(t, StatusUsernameTaken, c.recv().Status)

	// The original password still works.
	assert.Equal(t, StatusSuccess, c.login("alice", "pw1").Status)
}

func TestServerDuplicateLoginRejected(t *testing.T) {
	srv := startServer(t, map[string]string{"alice": "pw1"})

	first := dialServer(t, srv)
	require.Equal(t, StatusSuccess, first.login("alice", "pw1").Status)

	second := dialServer(t, srv)
	assert.Equal(t, StatusAlreadyActive, second.login("alice", "pw1").Status)

	// The first session is still the live one.
	_, ok := srv.Registry().Lookup("alice")
	assert.True(t, ok)
}

func TestServerPublicMessage(t *testing.T) {
	srv := startServer(t, map[string]string{"alice": "pw1", "bob": "pw2"})

	bob := dialServer(t, srv)
	require.Equal(t, StatusSuccess, bob.login("bob", "pw2").Status)

	alice := dialServer(t, srv)
	require.Equal(t, StatusSuccess, alice.login("alice", "pw1").Status)

	// Bob sees alice join.
	join := bob.recv()
	require.Equal(t, PushActiveUsers, join.Type)
	assert.Equal(t, []string{"alice", "bob"}, join.ActiveUsers)

	alice.send(Envelope{Command: CmdPublic, Username: "alice", Message: "hi all"})
	assert.Equal(t, StatusMessageSent, alice.recv().Status)

	push := bob.recv()
	assert.Equal(t, PushPublic, push.Type)
	assert.Equal(t, "alice", push.From)
	assert.Equal(t, "hi all", push.Message)

	// Alice never receives her own broadcast: her next envelope is bob's
	// reply, not an echo.
	bob.send(Envelope{Command: CmdPublic, Username: "bob", Message: "hey alice"})
	assert.Equal(t, StatusMessageSent, bob.recv().Status)

	reply := alice.recv()
	assert.Equal(t, PushPublic, reply.Type)
	assert.Equal(t, "bob", reply.From)
	assert.Equal(t, "hey alice", reply.Message)
}

func TestServerDirectMessage(t *testing.T) {
	srv := startServer(t, map[string]string{"alice": "pw1", "bob": "pw2"})

	bob := dialServer(t, srv)
	require.Equal(t, StatusSuccess, bob.login("bob", "pw2").Status)
	alice := dialServer(t, srv)
	require.Equal(t, StatusSuccess, alice.login("alice", "pw1").Status)
	bob.recv() // alice's join push

	alice.send(Envelope{Command: CmdDirect, Username: "alice", Recipient: "bob", Message: "psst"})
	assert.Equal(t, StatusMessageSent, alice.recv().Status)

	push := bob.recv()
	assert.Equal(t, PushDirect, push.Type)
	assert.Equal(t, "alice", push.From)
	assert.Equal(t, "psst", push.Message)
}

func TestServerDirectMessageEdgeCases(t *testing.T) {
	srv := startServer(t, map[string]string{"alice": "pw1"})

	alice := dialServer(t, srv)
	require.Equal(t, StatusSuccess, alice.login("alice", "pw1").Status)

	// Absent recipient.
	alice.send(Envelope{Command: CmdDirect, Username: "alice", Recipient: "carol", Message: "hello?"})
	assert.Equal(t, StatusRecipientNotFound, alice.recv().Status)

	// Self-messaging, rejected even as the only active user.
	alice.send(Envelope{Command: CmdDirect, Username: "alice", Recipient: "alice", Message: "echo"})
	assert.Equal(t, StatusCannotMessageSelf, alice.recv().Status)
}

func TestServerExitUpdatesMembership(t *testing.T) {
	srv := startServer(t, map[string]string{"alice": "pw1", "bob": "pw2"})

	bob := dialServer(t, srv)
	require.Equal(t, StatusSuccess, bob.login("bob", "pw2").Status)
	alice := dialServer(t, srv)
	require.Equal(t, StatusSuccess, alice.login("alice", "pw1").Status)
	bob.recv()

	alice.send(Envelope{Command: CmdExit, Username: "alice"})
	assert.Equal(t, StatusExiting, alice.recv().Status)

	push := bob.recv()
	assert.Equal(t, PushActiveUsers, push.Type)
	assert.Equal(t, []string{"bob"}, push.ActiveUsers)
}

func TestServerDisconnectUpdatesMembership(t *testing.T) {
	srv := startServer(t, map[string]string{"alice": "pw1", "bob": "pw2"})

	bob := dialServer(t, srv)
	require.Equal(t, StatusSuccess, bob.login("bob", "pw2").Status)
	alice := dialServer(t, srv)
	require.Equal(t, StatusSuccess, alice.login("alice", "pw1").Status)
	bob.recv()

	// Dropping the transport without an exit must still reap the session.
	alice.conn.Close()

	push := bob.recv()
	assert.Equal(t, PushActiveUsers, push.Type)
	assert.Equal(t, []string{"bob"}, push.ActiveUsers)
}

func TestServerCommandsRequireLogin(t *testing.T) {
	srv := startServer(t, nil)
	c := dialServer(t, srv)

	c.send(Envelope{Command: CmdPublic, Username: "nobody", Message: "hi"})
	assert.Equal(t, StatusSenderNotActive, c.recv().Status)

	c.send(Envelope{Command: CmdExit, Username: "nobody"})
	assert.Equal(t, StatusUserNotLoggedIn, c.recv().Status)
}

func TestServerUnknownCommand(t *testing.T) {
	srv := startServer(t, nil)
	c := dialServer(t, srv)

	c.send(Envelope{Command: "dance"})
	assert.Equal(t, StatusUnknownCommand, c.recv().Status)
}

func TestServerSurvivesMalformedFrame(t *testing.T) {
	srv := startServer(t, map[string]string{"alice": "pw1"})

	raw, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	defer raw.Close()
	tc := &testClient{t: t, conn: NewConn(raw)}

	_, err = raw.Write([]byte("this is not json\n"))
	require.NoError(t, err)
	assert.Equal(t, StatusUnknownCommand, tc.recv().Status)

	// The connection stays usable after the bad frame.
	assert.Equal(t, StatusSuccess, tc.login("alice", "pw1").Status)
}

func TestServerConcurrentRegistrationsOneWinner(t *testing.T) {
	srv := startServer(t, nil)

	const n = 6
	results := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() {
			c, err := net.Dial("tcp", srv.Addr())
			if err != nil {
				results <- err.Error()
				return
			}
			defer c.Close()
			conn := NewConn(c)
			if err := conn.WriteEnvelope(Envelope{Command: CmdRegister, Username: "alice", Password: "pw"}); err != nil {
				results <- err.Error()
				return
			}
			env, err := conn.ReadEnvelope()
			if err != nil {
				results <- err.Error()
				return
			}
			results <- env.Status
		}()
	}

	var wins, taken int
	for i := 0; i < n; i++ {
		select {
		case status := <-results:
			switch status {
			case StatusSuccess:
				wins++
			case StatusUsernameTaken:
				taken++
			default:
				t.Fatalf("unexpected status %q", status)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for registration results")
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, taken)
}
