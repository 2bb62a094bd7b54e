//go:build linux && cgo

package transport

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/libp2p/go-openssl"
	"github.com/ridge/pistonen/ioop"
	"github.com/ridge/pistonen/tnet"
	"golang.org/x/sys/unix"
)

// OpenSSL builds OpenSSL server contexts from a crypto/tls configuration.
// The context is rebuilt whenever the configuration starts serving a
// different certificate, so certificate reloads reach new connections.
type OpenSSL struct {
	config *tls.Config

	mu   sync.Mutex
	cert *tls.Certificate
	ctx  *openssl.Ctx
}

// NewOpenSSL returns the OpenSSL backend for config, which must carry a
// certificate in Certificates or through GetCertificate
func NewOpenSSL(config *tls.Config) (*OpenSSL, error) {
	o := &OpenSSL{config: config}
	if _, err := o.context(); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *OpenSSL) certificate() (*tls.Certificate, error) {
	if o.config.GetCertificate != nil {
		cert, err := o.config.GetCertificate(&tls.ClientHelloInfo{})
		if err != nil {
			return nil, err
		}
		if cert != nil {
			return cert, nil
		}
	}
	if len(o.config.Certificates) == 0 {
		return nil, errors.New("no certificate configured")
	}
	return &o.config.Certificates[0], nil
}

func (o *OpenSSL) context() (*openssl.Ctx, error) {
	cert, err := o.certificate()
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if cert == o.cert {
		return o.ctx, nil
	}
	ctx, err := newContext(cert)
	if err != nil {
		return nil, err
	}
	o.cert, o.ctx = cert, ctx
	return ctx, nil
}

func newContext(cert *tls.Certificate) (*openssl.Ctx, error) {
	if len(cert.Certificate) == 0 {
		return nil, errors.New("empty certificate chain")
	}
	ctx, err := openssl.NewCtx()
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenSSL context: %w", err)
	}
	if !ctx.SetMinProtoVersion(openssl.TLS1_2_VERSION) {
		return nil, errors.New("failed to set the minimum TLS version")
	}
	ctx.SetOptions(openssl.NoCompression | openssl.CipherServerPreference)
	ctx.SetSessionCacheMode(openssl.SessionCacheOff)

	for i, der := range cert.Certificate {
		x, err := openssl.LoadCertificateFromPEM(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate %d: %w", i, err)
		}
		if i == 0 {
			err = ctx.UseCertificate(x)
		} else {
			err = ctx.AddChainCertificate(x)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to install certificate %d: %w", i, err)
		}
	}

	der, err := x509.MarshalPKCS8PrivateKey(cert.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode private key: %w", err)
	}
	key, err := openssl.LoadPrivateKeyFromPEM(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	if err := ctx.UsePrivateKey(key); err != nil {
		return nil, fmt.Errorf("failed to install private key: %w", err)
	}
	return ctx, nil
}

// SSL runs OpenSSL over the socket
type SSL struct {
	conn *openssl.Conn
	raw  *sslConn
	err  error // context or session setup failure, reported by Handshake
	done bool
}

// NewSSL returns a server-side OpenSSL transport over fd
func NewSSL(fd int, s ioop.Suspender, o *OpenSSL) *SSL {
	raw := &sslConn{fdConn: fdConn{fd: fd, s: s}}
	ctx, err := o.context()
	if err != nil {
		return &SSL{raw: raw, err: err}
	}
	conn, err := openssl.Server(raw, ctx)
	if err != nil {
		return &SSL{raw: raw, err: err}
	}
	return &SSL{conn: conn, raw: raw}
}

// Handshake implements ioop.Handshaker
func (t *SSL) Handshake() ioop.Result {
	if t.err != nil {
		return ioop.Failed(fmt.Errorf("OpenSSL setup failed: %w", t.err))
	}
	if err := t.conn.Handshake(); err != nil {
		return ioop.Failed(fmt.Errorf("OpenSSL handshake failed: %w", err))
	}
	if err := t.raw.drain(); err != nil {
		return ioop.Failed(fmt.Errorf("OpenSSL handshake failed: %w", err))
	}
	t.done = true
	return ioop.Progress
}

// Read implements ioop.Reader
func (t *SSL) Read(p []byte) (int, ioop.Result) {
	n, err := t.conn.Read(p)
	switch {
	case n > 0:
		return n, ioop.Progress
	case errors.Is(err, io.EOF):
		return 0, ioop.Failed(ioop.ErrPeerClosed)
	case err != nil:
		return 0, ioop.Failed(fmt.Errorf("OpenSSL read failed: %w", err))
	default:
		return 0, ioop.Progress
	}
}

// Write implements ioop.Writer. The records are on the wire, or in the
// socket buffer, when it returns.
func (t *SSL) Write(p []byte) (int, ioop.Result) {
	n, err := t.conn.Write(p)
	if err == nil {
		err = t.raw.drain()
	}
	if err != nil {
		return n, ioop.Failed(fmt.Errorf("OpenSSL write failed: %w", err))
	}
	return n, ioop.Progress
}

// SendFile implements ioop.FileSender
func (t *SSL) SendFile(int, *int64, int) (int, ioop.Result) {
	return 0, ioop.Failed(errors.New("sendfile is not available over userspace TLS"))
}

// Kind implements Transport
func (t *SSL) Kind() Kind {
	return KindOpenSSL
}

// Session implements Transport. OpenSSL reports no more than completion
// and resumption.
func (t *SSL) Session() *tls.ConnectionState {
	if !t.done {
		return nil
	}
	return &tls.ConnectionState{HandshakeComplete: true, DidResume: t.conn.SessionReused()}
}

// ZeroCopy implements Transport
func (t *SSL) ZeroCopy() bool {
	return false
}

// Close implements Transport. The close notification is sent if the socket
// accepts it without blocking; a session that never completed its handshake
// is dropped without one.
func (t *SSL) Close() error {
	t.raw.closing = true
	if !t.done {
		return t.raw.Close()
	}
	err := t.conn.Close()
	if err == nil || tnet.IsPeerGone(err) || tnet.IsWouldBlock(err) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return fmt.Errorf("failed to close OpenSSL session: %w", err)
}

// sslConn is the socket as OpenSSL sees it. The library flushes its output
// from background goroutines as well as from the caller, so Write never
// suspends: it queues the bytes and sends what the socket takes. Only the
// connection's own goroutine waits for the queue to drain, in drain and
// before it waits for input.
type sslConn struct {
	fdConn

	mu      sync.Mutex
	pending []byte
	closed  bool
	werr    error
}

func (c *sslConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if c.werr != nil {
		return 0, c.werr
	}
	c.pending = append(c.pending, p...)
	c.flushLocked()
	return len(p), c.werr
}

// flushLocked writes as much of the queue as the socket takes without
// blocking
func (c *sslConn) flushLocked() {
	for len(c.pending) > 0 && c.werr == nil {
		n, err := unix.Write(c.fd, c.pending)
		switch {
		case err == nil && n > 0:
			c.pending = c.pending[n:]
		case errors.Is(err, unix.EINTR):
		case err == nil || tnet.IsWouldBlock(err):
			return
		default:
			c.werr = c.opError("write", err)
		}
	}
	if len(c.pending) == 0 {
		c.pending = nil
	}
}

// drain waits until the queue is empty. Called from the connection's
// goroutine only.
func (c *sslConn) drain() error {
	for {
		c.mu.Lock()
		c.flushLocked()
		left, err := len(c.pending), c.werr
		c.mu.Unlock()
		switch {
		case err != nil:
			return err
		case left == 0:
			return nil
		case c.closing:
			return nil
		}
		c.s.Suspend(ioop.Writable)
	}
}

func (c *sslConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if err := c.drain(); err != nil {
			return 0, err
		}
		n, err := unix.Read(c.fd, p)
		switch {
		case err == nil && n > 0:
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

// Close marks the queue closed; the reactor owns the descriptor
func (c *sslConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
