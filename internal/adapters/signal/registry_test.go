package signal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BindIsExclusive(t *testing.T) {
	r := NewRegistry()
	a, b := &WsSignalConn{}, &WsSignalConn{}

	require.True(t, r.Bind("alice", a, func() {}))
	assert.False(t, r.Bind("alice", b, func() {}))

	// Only the holder can free the address.
	r.Unbind("alice", b)
	got, ok := r.Get("alice")
	require.True(t, ok)
	assert.Same(t, a, got)

	r.Unbind("alice", a)
	_, ok = r.Get("alice")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_KickAndCancelAll(t *testing.T) {
	r := NewRegistry()
	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelA()
	defer cancelB()
	r.Bind("alice", &WsSignalConn{}, cancelA)
	r.Bind("bob", &WsSignalConn{}, cancelB)

	r.Kick("alice")
	assert.Error(t, ctxA.Err())
	assert.NoError(t, ctxB.Err())

	r.Kick("nobody")
	r.CancelAll()
	assert.Error(t, ctxB.Err())
}

func TestPolicies(t *testing.T) {
	assert.Equal(t, DropFrame, DropPolicy{}.OnBackpressure("a"))
	assert.Equal(t, KickPeer, KickPolicy{}.OnBackpressure("a"))
}
