package transport

import (
	"net"
	"testing"

	"github.com/ridge/pistonen/ioop"
	"github.com/ridge/pistonen/tnet"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"time"
)

// pollSuspender parks the calling goroutine in poll(2). It stands in for
// the reactor when a transport is exercised on its own.
type pollSuspender struct {
	fd       int
	suspends []ioop.Interest
	touches  int
}

func (s *pollSuspender) Suspend(interest ioop.Interest) {
	s.suspends = append(s.suspends, interest)
	var events int16
	if interest&ioop.Readable != 0 {
		events |= unix.POLLIN
	}
	if interest&ioop.Writable != 0 {
		events |= unix.POLLOUT
	}
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
	for {
		_, err := unix.Poll(fds, 5000)
		if err != unix.EINTR {
			return
		}
	}
}

func (s *pollSuspender) Touch() {
	s.touches++
}

// tcpPair returns the accepted, nonblocking server side of a loopback TCP
// connection and the client side as a net.Conn
func tcpPair(t *testing.T) (int, net.Conn) {
	return dialPair(t, &net.Dialer{})
}

// dialPair is tcpPair with the client dialed by d
func dialPair(t *testing.T, d *net.Dialer) (int, net.Conn) {
	lfd, addr, err := tnet.ListenTCP("127.0.0.1", 0, 4)
	require.NoError(t, err)
	defer unix.Close(lfd)

	client, err := d.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	deadline := time.Now().Add(5 * time.Second)
	for {
		fd, _, err := tnet.Accept(lfd)
		if err == nil {
			t.Cleanup(func() { _ = unix.Close(fd) })
			return fd, client
		}
		require.True(t, tnet.IsWouldBlock(err), "accept: %v", err)
		require.True(t, time.Now().Before(deadline))
		time.Sleep(time.Millisecond)
	}
}
