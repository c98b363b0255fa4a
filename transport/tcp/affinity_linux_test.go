//go:build linux
// +build linux

package tcp_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/tinyws/api"
	"github.com/momentics/tinyws/protocol"
	"github.com/momentics/tinyws/transport/tcp"
)

func TestAcceptLoopPinnedToCPU(t *testing.T) {
	var allowed unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &allowed))
	if !allowed.IsSet(0) {
		t.Skip("CPU 0 is not available to this process")
	}

	cfg := testListenerConfig()
	cfg.AcceptCPU = 0
	opened := make(chan api.Session, 1)
	l := tcp.NewListener(cfg, echoHandler(opened))
	assert.Equal(t, -1, l.PinnedCPU())
	require.NoError(t, l.Listen(0, 10, false))

	require.Eventually(t, func() bool { return l.PinnedCPU() == 0 }, time.Second, 5*time.Millisecond)

	c := connect(t, l)
	<-opened
	c.send(protocol.OpcodeText, []byte("pinned"))
	assert.Equal(t, "pinned", string(c.read().Payload))

	require.NoError(t, l.Stop())
	assert.Equal(t, -1, l.PinnedCPU())
}
