package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"

	"github.com/ridge/pistonen/ioop"
	"github.com/ridge/pistonen/tnet"
	"golang.org/x/sys/unix"
	"time"
)

const recordHeaderLen = 5

// fdConn presents a nonblocking socket to crypto/tls as a blocking
// net.Conn. When the socket is not ready it suspends the execution context
// in the direction the library is waiting for, so crypto/tls never observes
// a would-block condition.
type fdConn struct {
	fd int
	s  ioop.Suspender

	// closing disables suspension: on teardown the caller is the reactor
	// itself, and a close notification that does not fit into the socket
	// buffer is dropped.
	closing bool

	// framed limits every read to the remainder of the current TLS record,
	// so the library never buffers bytes past the record it asked for
	framed   bool
	header   [recordHeaderLen]byte
	headerN  int
	bodyLeft int
}

func (c *fdConn) limit(p []byte) []byte {
	if !c.framed {
		return p
	}
	want := recordHeaderLen - c.headerN
	if c.bodyLeft > 0 {
		want = c.bodyLeft
	}
	if len(p) > want {
		return p[:want]
	}
	return p
}

func (c *fdConn) consumed(p []byte) {
	if !c.framed {
		return
	}
	if c.bodyLeft > 0 {
		c.bodyLeft -= len(p)
		return
	}
	c.headerN += copy(c.header[c.headerN:], p)
	if c.headerN == recordHeaderLen {
		c.headerN = 0
		c.bodyLeft = int(binary.BigEndian.Uint16(c.header[3:]))
	}
}

func (c *fdConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	p = c.limit(p)
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == nil && n > 0:
			c.consumed(p[:n])
			if !c.closing {
				c.s.Touch()
			}
			return n, nil
		case err == nil:
			return 0, io.EOF
		case errors.Is(err, unix.EINTR):
		case tnet.IsWouldBlock(err) && !c.closing:
			c.s.Suspend(ioop.Readable)
		default:
			return 0, c.opError("read", err)
		}
	}
}

func (c *fdConn) Write(p []byte) (int, error) {
	var written int
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		switch {
		case err == nil && n > 0:
			written += n
			if !c.closing {
				c.s.Touch()
			}
		case errors.Is(err, unix.EINTR):
		case (err == nil || tnet.IsWouldBlock(err)) && !c.closing:
			c.s.Suspend(ioop.Writable)
		case err == nil:
			return written, c.opError("write", unix.EAGAIN)
		default:
			return written, c.opError("write", err)
		}
	}
	return written, nil
}

func (c *fdConn) opError(op string, err error) error {
	return &net.OpError{Op: op, Net: "tcp", Err: os.NewSyscallError(op, err)}
}

// Close is a no-op: the reactor owns the descriptor
func (c *fdConn) Close() error {
	return nil
}

func (c *fdConn) LocalAddr() net.Addr {
	if addr, err := tnet.LocalAddr(c.fd); err == nil {
		return addr
	}
	return &net.TCPAddr{}
}

func (c *fdConn) RemoteAddr() net.Addr {
	if addr, err := tnet.PeerAddr(c.fd); err == nil {
		return addr
	}
	return &net.TCPAddr{}
}

// Deadlines are not supported: the reactor's idle timer bounds every wait

func (c *fdConn) SetDeadline(time.Time) error      { return nil }
func (c *fdConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fdConn) SetWriteDeadline(time.Time) error { return nil }
