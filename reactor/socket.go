package reactor

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"os"
	"runtime"

	"github.com/ridge/pistonen/ioop"
	"github.com/ridge/pistonen/tnet"
	"github.com/ridge/pistonen/transport"
)

// copyChunk is the buffer size used to send files over transports that
// cannot do zero-copy transfers
const copyChunk = 32 << 10

// Socket is the handler's view of its connection. Every method may suspend
// the calling handler until the socket is ready.
type Socket struct {
	c *conn
}

// ID returns the connection number
func (s *Socket) ID() uint64 {
	return s.c.h.id()
}

// RemoteAddr returns the peer address
func (s *Socket) RemoteAddr() net.Addr {
	return s.c.peer
}

// Transport returns the kind of transport the connection runs over
func (s *Socket) Transport() transport.Kind {
	return s.c.tr.Kind()
}

// Handshake completes the transport handshake and returns the negotiated
// TLS session. Plaintext connections return a nil session immediately.
func (s *Socket) Handshake() (*tls.ConnectionState, error) {
	var session *tls.ConnectionState
	err := ioop.Drive(s.c, ioop.NewHandshakeOp(s.c.tr), func() bool {
		session = s.c.tr.Session()
		return true
	})
	return session, err
}

// Read returns an operation filling buf. Nothing is read until the
// operation is iterated.
func (s *Socket) Read(buf []byte) *ReadOp {
	return &ReadOp{s: s.c, op: ioop.NewReadOp(s.c.tr, buf)}
}

// Write writes all of p
func (s *Socket) Write(p []byte) error {
	return ioop.Drive(s.c, ioop.NewWriteOp(s.c.tr, p), nil)
}

// WriteString writes all of str
func (s *Socket) WriteString(str string) error {
	return s.Write([]byte(str))
}

// SendFile sends count bytes of f starting at offset. Plaintext and
// kernel TLS connections use sendfile(2); userspace TLS copies through a
// buffer.
func (s *Socket) SendFile(f *os.File, offset, count int64) error {
	if offset < 0 || count < 0 {
		return fmt.Errorf("invalid file range: offset %d, count %d", offset, count)
	}
	if s.c.tr.ZeroCopy() {
		err := ioop.Drive(s.c, ioop.NewSendFileOp(s.c.tr, int(f.Fd()), offset, count), nil)
		runtime.KeepAlive(f)
		return err
	}

	buf := make([]byte, min(count, copyChunk))
	for count > 0 {
		n, err := f.ReadAt(buf[:min(count, int64(len(buf)))], offset)
		if n > 0 {
			if err := s.Write(buf[:n]); err != nil {
				return err
			}
			offset += int64(n)
			count -= int64(n)
		}
		switch {
		case count == 0:
			return nil
		case errors.Is(err, io.EOF):
			return io.ErrUnexpectedEOF
		case err != nil:
			return err
		}
	}
	return nil
}

// Cork holds back partial frames until the returned function is called
func (s *Socket) Cork() (uncork func() error, err error) {
	if err := tnet.SetCork(s.c.fd, true); err != nil {
		return nil, err
	}
	return func() error {
		return tnet.SetCork(s.c.fd, false)
	}, nil
}

// ReadOp is a read in progress. Each step appends to the buffer; iterating
// yields the bytes read so far together with the capacity left.
type ReadOp struct {
	s   ioop.Suspender
	op  *ioop.ReadOp
	err error
}

// All iterates over read progress. Iteration ends when the buffer is full,
// the loop breaks or the read fails; see Err.
//
//	rd := s.Read(buf)
//	for data, remaining := range rd.All() {
//		...
//	}
//	if err := rd.Err(); err != nil {
//		return err
//	}
func (r *ReadOp) All() iter.Seq2[[]byte, int] {
	return func(yield func([]byte, int) bool) {
		r.err = ioop.Drive(r.s, r.op, func() bool {
			return yield(r.op.Filled(), r.op.Remaining())
		})
	}
}

// Each calls fn after every read until fn returns false, the buffer is
// full or the read fails
func (r *ReadOp) Each(fn func(data []byte, remaining int) bool) error {
	r.All()(fn)
	return r.err
}

// Err returns the error that ended the last iteration
func (r *ReadOp) Err() error {
	return r.err
}

// Filled returns the bytes read so far
func (r *ReadOp) Filled() []byte {
	return r.op.Filled()
}

// Remaining returns the free capacity of the buffer
func (r *ReadOp) Remaining() int {
	return r.op.Remaining()
}
