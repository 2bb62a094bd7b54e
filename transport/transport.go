// Package transport implements the byte transports a connection can run
// over: plaintext, TLS in userspace (crypto/tls, or OpenSSL in cgo builds)
// and TLS offloaded to the kernel after a userspace handshake.
//
// Userspace TLS libraries see the nonblocking socket as a blocking
// net.Conn. When the library needs the socket readable or writable the
// connection's execution context is suspended in that direction right
// there, inside the library call, so these transports never report
// ioop.Suspend themselves.
//
// Every transport reports each attempt through the ioop state contract.
// Transports never own the socket descriptor; the reactor closes it.
package transport

import (
	"crypto/tls"

	"github.com/ridge/pistonen/ioop"
	"go.uber.org/zap"
)

// Kind names a transport implementation
type Kind string

// Kind values
const (
	KindPlain Kind = "plain"
	KindTLS   Kind = "tls"
	KindKTLS  Kind = "ktls"

	KindOpenSSL Kind = "openssl"
)

// Transport is the per-connection byte transport
type Transport interface {
	ioop.Reader
	ioop.Writer
	ioop.Handshaker
	ioop.FileSender

	// Kind returns the implementation kind
	Kind() Kind

	// Session returns the negotiated TLS state, or nil for plaintext and
	// before the handshake completes
	Session() *tls.ConnectionState

	// ZeroCopy tells whether SendFile may be used, i.e. bytes written to
	// the socket reach the peer without userspace encryption
	ZeroCopy() bool

	// Close releases the session, sending a best-effort close notification
	// where the protocol has one. It must not block and does not close the
	// descriptor.
	Close() error
}

// Config selects and configures the transport for accepted connections
type Config struct {
	// TLS enables TLS when non-nil
	TLS *tls.Config

	// Offload hands the record layer to the kernel after the handshake
	Offload bool

	// OpenSSL runs TLS through OpenSSL instead of crypto/tls. It is built
	// from TLS, which must be set too.
	OpenSSL *OpenSSL
}

// Kind returns the kind of transport the config produces
func (c Config) Kind() Kind {
	switch {
	case c.TLS == nil:
		return KindPlain
	case c.OpenSSL != nil:
		return KindOpenSSL
	case c.Offload:
		return KindKTLS
	default:
		return KindTLS
	}
}

// New creates the transport for a connected socket.
//
// s is the execution context the connection's operations run in; TLS
// transports suspend it when the library needs readiness in a particular
// direction.
func New(fd int, s ioop.Suspender, config Config, logger *zap.Logger) Transport {
	switch config.Kind() {
	case KindOpenSSL:
		return NewSSL(fd, s, config.OpenSSL)
	case KindKTLS:
		return NewKTLS(fd, s, config.TLS, logger)
	case KindTLS:
		return NewTLS(fd, s, config.TLS)
	default:
		return NewPlain(fd)
	}
}
