// Package pistonen is a single-threaded, readiness-driven TCP server core.
//
// A server is one event loop owning a listening socket and an epoll
// instance. Each accepted connection runs a Handler in its own execution
// context. The handler is written as straight-line code: it reads, writes,
// performs a TLS handshake or sends a file, and every operation that cannot
// complete immediately suspends the context until the socket is ready in the
// direction the operation needs. The event loop resumes exactly one context
// at a time, so handlers never run concurrently with each other or with the
// loop.
//
// # Handlers
//
//	func handle(ctx context.Context, s *reactor.Socket) error {
//	    if _, err := s.Handshake(); err != nil {
//	        return err
//	    }
//	    buf := make([]byte, 4096)
//	    rd := s.Read(buf)
//	    for data := range rd.All() {
//	        if bytes.Contains(data, []byte("\n")) {
//	            break
//	        }
//	    }
//	    if err := rd.Err(); err != nil {
//	        return err
//	    }
//	    return s.WriteString("hello\n")
//	}
//
// Read yields every chunk of received data together with the capacity left
// in the buffer and suspends between chunks. Write, WriteString and SendFile
// return only when everything has been transferred. Handshake returns the
// negotiated TLS session, or nil for plaintext connections.
//
// # Transports
//
// reactor.Options.Transport selects one of three transports: plaintext, TLS
// in user space (crypto/tls), or TLS handed over to the kernel after the
// handshake (kTLS). With kTLS, SendFile transmits file data without copying
// it through user space. When the kernel cannot take the session over, the
// connection continues with user space TLS.
//
// # Timeouts
//
// Every connection has an idle timer. Any read or write progress pushes the
// deadline back; a connection that makes no progress for
// reactor.Options.IdleTimeout is destroyed. Destroying a suspended
// connection unwinds its handler without returning from the pending Socket
// call; deferred functions run.
//
// # Teardown
//
// A connection ends when its handler returns, when an operation fails,
// when it times out, or when the server shuts down. In all cases its socket
// and timer are removed from epoll before either descriptor is closed, and
// reactor.Options.Observer learns how it ended.
package pistonen
