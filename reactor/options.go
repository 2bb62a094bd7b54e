package reactor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ridge/pistonen/transport"
	"time"
)

// Defaults applied by DefaultOptions and for zero-valued fields
const (
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8080
	DefaultIdleTimeout = 5 * time.Second
	DefaultBacklog     = 128
	DefaultMaxEvents   = 256
)

// Handler runs the logic of one connection.
//
// It runs in the connection's execution context: every Socket operation
// that would block suspends it and hands control back to the reactor. The
// handler must not block by other means and must not use the Socket from
// other goroutines. Returning ends the connection; a non-nil error is
// logged as a failure.
//
// If the connection times out or the reactor shuts down while the handler
// is suspended, the handler's goroutine is unwound without returning from
// the Socket call. Deferred functions still run; a Socket call in one of
// them that would suspend unwinds that deferred function in turn.
type Handler func(ctx context.Context, s *Socket) error

// Options configures a Reactor
type Options struct {
	// Host is the address to listen on; empty means all interfaces
	Host string

	// Port is the TCP port to listen on; 0 selects a free port
	Port int

	// IdleTimeout is the time a connection may stay suspended without I/O
	// activity before it is destroyed
	IdleTimeout time.Duration

	// Backlog is the listen queue length
	Backlog int

	// MaxEvents bounds the number of readiness events handled per wait
	MaxEvents int

	// Transport selects plaintext, TLS (crypto/tls or OpenSSL) or
	// kernel-offloaded TLS
	Transport transport.Config

	// TCPUserTimeout sets TCP_USER_TIMEOUT on accepted sockets when
	// non-zero
	TCPUserTimeout time.Duration

	// Observer is notified about connection lifecycle events. Called from
	// the reactor goroutine.
	Observer Observer

	// StrictRelease makes failures to release connection resources panic
	// instead of being logged
	StrictRelease bool
}

// DefaultOptions returns the options of a plaintext server on 0.0.0.0:8080
// with a 5 second idle timeout
func DefaultOptions() Options {
	return Options{
		Host:        DefaultHost,
		Port:        DefaultPort,
		IdleTimeout: DefaultIdleTimeout,
		Backlog:     DefaultBacklog,
		MaxEvents:   DefaultMaxEvents,
	}
}

func (o Options) normalize() (Options, error) {
	if o.IdleTimeout == 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	if o.Backlog == 0 {
		o.Backlog = DefaultBacklog
	}
	if o.MaxEvents == 0 {
		o.MaxEvents = DefaultMaxEvents
	}
	if o.Observer == nil {
		o.Observer = Observers{}
	}

	switch {
	case o.IdleTimeout < 0:
		return o, fmt.Errorf("invalid idle timeout %s", o.IdleTimeout)
	case o.Port < 0 || o.Port > 65535:
		return o, fmt.Errorf("invalid port %d", o.Port)
	case o.Backlog < 0:
		return o, fmt.Errorf("invalid backlog %d", o.Backlog)
	case o.MaxEvents < 0:
		return o, fmt.Errorf("invalid event batch size %d", o.MaxEvents)
	case o.Transport.Offload && o.Transport.TLS == nil:
		return o, errors.New("kernel TLS offload requires TLS configuration")
	case o.Transport.OpenSSL != nil && o.Transport.TLS == nil:
		return o, errors.New("the OpenSSL backend requires TLS configuration")
	case o.Transport.OpenSSL != nil && o.Transport.Offload:
		return o, errors.New("kernel TLS offload is not available with the OpenSSL backend")
	}
	return o, nil
}
