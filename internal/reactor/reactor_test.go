//go:build linux

package reactor

import (
	"context"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/arjenlentz/dpm/internal/netconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenRegistersListenerFd(t *testing.T) {
	m := netconn.NewManager(nil, nil)
	r, err := New(m, nil, "tcp", "127.0.0.1:0")
	require.NoError(t, err)

	require.NoError(t, r.Listen("tcp", "127.0.0.1:0", false))
	assert.Len(t, r.fds, 1)
}

func TestRawFdExtractsRealDescriptor(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	fd, err := rawFd(ln.(syscall.Conn))
	require.NoError(t, err)
	assert.NotZero(t, fd)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	m := netconn.NewManager(nil, nil)
	r, err := New(m, nil, "tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, r.Listen("tcp", "127.0.0.1:0", false))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err = r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
