package transport

import (
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/ridge/pistonen/ioop"
	"github.com/ridge/pistonen/tnet"
	"golang.org/x/sys/unix"
)

// Plain moves bytes with raw socket syscalls
type Plain struct {
	fd int
}

// NewPlain returns a plaintext transport over fd
func NewPlain(fd int) *Plain {
	return &Plain{fd: fd}
}

// Read implements ioop.Reader
func (p *Plain) Read(b []byte) (int, ioop.Result) {
	for {
		n, err := unix.Read(p.fd, b)
		switch {
		case err == nil && n > 0:
			return n, ioop.Progress
		case err == nil:
			return 0, ioop.Failed(ioop.ErrPeerClosed)
		case errors.Is(err, unix.EINTR):
		case tnet.IsWouldBlock(err):
			return 0, ioop.Suspended(ioop.Readable)
		default:
			return 0, ioop.Failed(fmt.Errorf("read: %w", err))
		}
	}
}

// Write implements ioop.Writer
func (p *Plain) Write(b []byte) (int, ioop.Result) {
	for {
		n, err := unix.Write(p.fd, b)
		switch {
		case err == nil && n > 0:
			return n, ioop.Progress
		case err == nil, tnet.IsWouldBlock(err):
			return 0, ioop.Suspended(ioop.Writable)
		case errors.Is(err, unix.EINTR):
		default:
			return 0, ioop.Failed(fmt.Errorf("write: %w", err))
		}
	}
}

// SendFile implements ioop.FileSender
func (p *Plain) SendFile(in int, offset *int64, count int) (int, ioop.Result) {
	for {
		n, err := unix.Sendfile(p.fd, in, offset, count)
		switch {
		case err == nil:
			return n, ioop.Progress
		case errors.Is(err, unix.EINTR):
		case tnet.IsWouldBlock(err):
			return 0, ioop.Suspended(ioop.Writable)
		default:
			return 0, ioop.Failed(fmt.Errorf("sendfile: %w", err))
		}
	}
}

// Handshake implements ioop.Handshaker. Plaintext has nothing to negotiate.
func (p *Plain) Handshake() ioop.Result {
	return ioop.Progress
}

// Kind implements Transport
func (p *Plain) Kind() Kind {
	return KindPlain
}

// Session implements Transport
func (p *Plain) Session() *tls.ConnectionState {
	return nil
}

// ZeroCopy implements Transport
func (p *Plain) ZeroCopy() bool {
	return true
}

// Close implements Transport
func (p *Plain) Close() error {
	return nil
}
