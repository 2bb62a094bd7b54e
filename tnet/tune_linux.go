package tnet

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
	"time"
)

// TuneConfig lists the TCP options applied to accepted sockets
type TuneConfig struct {
	// NoDelay disables Nagle's algorithm
	NoDelay bool

	// UserTimeout bounds the time transmitted data may stay unacknowledged
	// before the kernel drops the connection. Zero keeps the system default.
	UserTimeout time.Duration
}

// Tune applies config to a TCP socket
func Tune(fd int, config TuneConfig) error {
	if config.NoDelay {
		if err := setTCPOption(fd, unix.TCP_NODELAY, 1); err != nil {
			return fmt.Errorf("failed to tune TCP socket: %w", err)
		}
	}
	if config.UserTimeout != 0 {
		if err := setTCPOption(fd, unix.TCP_USER_TIMEOUT, int(config.UserTimeout/time.Millisecond)); err != nil {
			return fmt.Errorf("failed to tune TCP socket: %w", err)
		}
	}
	return nil
}

// SetCork toggles TCP_CORK. While corked, partial frames are held back until
// the cork is removed.
func SetCork(fd int, on bool) error {
	v := 0
	if on {
		v = 1
	}
	return setTCPOption(fd, unix.TCP_CORK, v)
}

func setTCPOption(fd int, option, value int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, option, value); err != nil {
		return fmt.Errorf("failed to set TCP socket option %d: %w", option, err)
	}
	return nil
}

// TuneConn applies config to a runtime-managed TCP connection
func TuneConn(conn net.Conn, config TuneConfig) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tcp.SyscallConn()
	if err != nil {
		return fmt.Errorf("failed to tune TCP socket: %w", err)
	}
	var tuneErr error
	if err := raw.Control(func(fd uintptr) {
		tuneErr = Tune(int(fd), config)
	}); err != nil {
		return fmt.Errorf("failed to tune TCP socket: %w", err)
	}
	return tuneErr
}
