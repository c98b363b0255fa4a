package session_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/tinyws/api"
	"github.com/momentics/tinyws/internal/session"
)

func TestRegistry(t *testing.T) {
	r := session.NewRegistry(3)

	var ids []string
	for i := 0; i < 10; i++ {
		srv, cli := net.Pipe()
		t.Cleanup(func() {
			_ = srv.Close()
			_ = cli.Close()
		})
		s := session.New(srv, api.HandlerFuncs{}, session.DefaultConfig())
		r.Add(s)
		ids = append(ids, s.ID())
	}
	assert.Equal(t, 10, r.Len())
	assert.Len(t, r.Snapshot(), 10)

	got, ok := r.Get(ids[3])
	require.True(t, ok)
	assert.Equal(t, ids[3], got.ID())

	r.Remove(ids[3])
	_, ok = r.Get(ids[3])
	assert.False(t, ok)
	assert.Equal(t, 9, r.Len())

	r.Remove("missing")
	assert.Equal(t, 9, r.Len())
}

func TestSessionIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		srv, cli := net.Pipe()
		s := session.New(srv, api.HandlerFuncs{}, session.DefaultConfig())
		require.False(t, seen[s.ID()])
		seen[s.ID()] = true
		_ = srv.Close()
		_ = cli.Close()
	}
}
