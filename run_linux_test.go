package pistonen

import (
	"context"
	"net"
	"testing"

	"github.com/ridge/pistonen/reactor"
	"github.com/ridge/pistonen/test"
	"github.com/stretchr/testify/require"
)

func TestRunAddressInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	opts := reactor.DefaultOptions()
	opts.Host = "127.0.0.1"
	opts.Port = l.Addr().(*net.TCPAddr).Port
	err = Run(test.Context(t), opts, func(ctx context.Context, s *reactor.Socket) error { return nil })
	require.Error(t, err)
}

func TestRunStops(t *testing.T) {
	ctx, cancel := context.WithCancel(test.Context(t))
	cancel()

	opts := reactor.DefaultOptions()
	opts.Host = "127.0.0.1"
	opts.Port = 0
	err := Run(ctx, opts, func(ctx context.Context, s *reactor.Socket) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
