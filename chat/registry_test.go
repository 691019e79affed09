package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterLookup(t *testing.T) {
	r := NewRegistry(discardLogger(), nil)
	conn := newMockConn()

	sess, err := r.Register("alice", conn)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "alice", sess.Name)

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, sess, got)

	_, ok = r.Lookup("bob")
	assert.False(t, ok)
}

func TestRegistryRejectsActiveUsername(t *testing.T) {
	r := NewRegistry(discardLogger(), nil)

	first, err := r.Register("alice", newMockConn())
	require.NoError(t, err)

	_, err = r.Register("alice", newMockConn())
	assert.ErrorIs(t, err, ErrAlreadyActive)

	// The first session stays live and registered.
	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestRegistryUnregisterIdempotent(t *testing.T) {
	r := NewRegistry(discardLogger(), nil)
	_, err := r.Register("alice", newMockConn())
	require.NoError(t, err)

	r.Unregister("alice")
	assert.Equal(t, 0, r.Count())
	r.Unregister("alice")
	r.Unregister("never-existed")
	assert.Equal(t, 0, r.Count())
}

func TestRegistryDropOnlyRemovesOwnSession(t *testing.T) {
	r := NewRegistry(discardLogger(), nil)

	old, err := r.Register("alice", newMockConn())
	require.NoError(t, err)
	assert.True(t, r.Drop(old))

	// A new session under the same name must survive the old connection's
	// late teardown.
	fresh, err := r.Register("alice", newMockConn())
	require.NoError(t, err)
	assert.False(t, r.Drop(old))

	got, ok := r.Lookup("alice")
	require.True(t, ok)
	assert.Same(t, fresh, got)
}

func TestRegistryUsernamesSnapshot(t *testing.T) {
	r := NewRegistry(discardLogger(), nil)
	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := r.Register(name, newMockConn())
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"alice", "bob", "carol"}, r.Usernames())

	r.Unregister("bob")
	assert.Equal(t, []string{"alice", "carol"}, r.Usernames())
}

func TestRegistryBroadcastExcludesSender(t *testing.T) {
	r := NewRegistry(discardLogger(), nil)
	alice := newMockConn()
	bob := newMockConn()
	carol := newMockConn()
	for name, conn := range map[string]*mockConn{"alice": alice, "bob": bob, "carol": carol} {
		_, err := r.Register(name, conn)
		require.NoError(t, err)
	}

	r.Broadcast(PublicPush("alice", "hi all"), "alice")

	for _, c := range []*mockConn{bob, carol} {
		env := c.recv(t)
		assert.Equal(t, PushPublic, env.Type)
		assert.Equal(t, "alice", env.From)
		assert.Equal(t, "hi all", env.Message)
	}
	alice.recvNone(t)
}

func TestRegistryBroadcastSurvivesDeadSink(t *testing.T) {
	r := NewRegistry(discardLogger(), nil)
	dead := newMockConn()
	dead.failWrites.Store(true)
	live := newMockConn()

	_, err := r.Register("dead", dead)
	require.NoError(t, err)
	_, err = r.Register("live", live)
	require.NoError(t, err)

	// The failed send must not stop delivery to the remaining sessions.
	r.BroadcastMembership("")

	env := live.recv(t)
	assert.Equal(t, PushActiveUsers, env.Type)
	assert.Equal(t, []string{"dead", "live"}, env.ActiveUsers)
}

func TestRegistryConcurrentRegisterSingleWinner(t *testing.T) {
	r := NewRegistry(discardLogger(), nil)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Register("alice", newMockConn())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, rejections int
	for err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrAlreadyActive)
			rejections++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, rejections)
	assert.Equal(t, 1, r.Count())
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r := NewRegistry(discardLogger(), nil)

	// Concurrent register/unregister/snapshot must not race or corrupt the
	// map; run with -race to verify.
	var wg sync.WaitGroup
	names := []string{"a", "b", "c", "d"}
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if _, err := r.Register(name, newMockConn()); err == nil {
					r.Unregister(name)
				}
				_ = r.Usernames()
			}
		}(name)
	}
	wg.Wait()
	assert.Equal(t, 0, r.Count())
}
