package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/ridge/pistonen/ioop"
	"github.com/ridge/pistonen/tnet"
)

// TLS runs crypto/tls over the socket
type TLS struct {
	conn *tls.Conn
	raw  *fdConn
	fd   int
}

// NewTLS returns a server-side TLS transport over fd
func NewTLS(fd int, s ioop.Suspender, config *tls.Config) *TLS {
	raw := &fdConn{fd: fd, s: s}
	return &TLS{conn: tls.Server(raw, config), raw: raw, fd: fd}
}

// Handshake implements ioop.Handshaker
func (t *TLS) Handshake() ioop.Result {
	if err := t.conn.Handshake(); err != nil {
		return ioop.Failed(fmt.Errorf("TLS handshake failed: %w", err))
	}
	return ioop.Progress
}

// Read implements ioop.Reader
func (t *TLS) Read(p []byte) (int, ioop.Result) {
	n, err := t.conn.Read(p)
	switch {
	case n > 0:
		return n, ioop.Progress
	case errors.Is(err, io.EOF):
		return 0, ioop.Failed(ioop.ErrPeerClosed)
	case err != nil:
		return 0, ioop.Failed(fmt.Errorf("TLS read failed: %w", err))
	default:
		return 0, ioop.Progress
	}
}

// Write implements ioop.Writer
func (t *TLS) Write(p []byte) (int, ioop.Result) {
	n, err := t.conn.Write(p)
	if err != nil {
		return n, ioop.Failed(fmt.Errorf("TLS write failed: %w", err))
	}
	return n, ioop.Progress
}

// SendFile implements ioop.FileSender. Userspace TLS has to encrypt every
// byte, so zero-copy transfer is refused; see ZeroCopy.
func (t *TLS) SendFile(int, *int64, int) (int, ioop.Result) {
	return 0, ioop.Failed(errors.New("sendfile is not available over userspace TLS"))
}

// Kind implements Transport
func (t *TLS) Kind() Kind {
	return KindTLS
}

// Session implements Transport
func (t *TLS) Session() *tls.ConnectionState {
	state := t.conn.ConnectionState()
	if !state.HandshakeComplete {
		return nil
	}
	return &state
}

// ZeroCopy implements Transport
func (t *TLS) ZeroCopy() bool {
	return false
}

// Close implements Transport. It sends close_notify if the socket accepts
// it without blocking.
func (t *TLS) Close() error {
	t.raw.closing = true
	err := t.conn.Close()
	if err == nil || tnet.IsPeerGone(err) || tnet.IsWouldBlock(err) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return fmt.Errorf("failed to close TLS session: %w", err)
}
