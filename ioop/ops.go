package ioop

import (
	"fmt"
	"io"
)

// Reader performs one nonblocking read attempt
type Reader interface {
	Read(p []byte) (int, Result)
}

// Writer performs one nonblocking write attempt
type Writer interface {
	Write(p []byte) (int, Result)
}

// Handshaker performs one handshake attempt. HasNext means the handshake
// has completed.
type Handshaker interface {
	Handshake() Result
}

// FileSender performs one zero-copy transfer attempt of up to count bytes
// from the file descriptor in, starting at *offset. The offset is advanced
// by the number of bytes sent.
type FileSender interface {
	SendFile(in int, offset *int64, count int) (int, Result)
}

// ReadOp fills a buffer in successive reads
type ReadOp struct {
	r      Reader
	buf    []byte
	filled int
}

// NewReadOp returns an operation reading into buf
func NewReadOp(r Reader, buf []byte) *ReadOp {
	return &ReadOp{r: r, buf: buf}
}

// Step implements Op
func (op *ReadOp) Step() Result {
	if op.filled == len(op.buf) {
		return Done
	}
	n, res := op.r.Read(op.buf[op.filled:])
	if res.State == HasNext {
		op.filled += n
	}
	return res
}

// Filled returns the bytes read so far
func (op *ReadOp) Filled() []byte {
	return op.buf[:op.filled]
}

// Remaining returns the free capacity left in the buffer
func (op *ReadOp) Remaining() int {
	return len(op.buf) - op.filled
}

// WriteOp writes a whole buffer in successive writes
type WriteOp struct {
	w       Writer
	p       []byte
	written int
}

// NewWriteOp returns an operation writing all of p
func NewWriteOp(w Writer, p []byte) *WriteOp {
	return &WriteOp{w: w, p: p}
}

// Step implements Op
func (op *WriteOp) Step() Result {
	if len(op.p) == 0 {
		return Done
	}
	n, res := op.w.Write(op.p)
	if res.State != HasNext {
		return res
	}
	op.p = op.p[n:]
	op.written += n
	if len(op.p) == 0 {
		return Done
	}
	return res
}

// Written returns the number of bytes written so far
func (op *WriteOp) Written() int {
	return op.written
}

// HandshakeOp completes a handshake. It reports HasNext exactly once, when
// the session is established, and Exhausted afterwards.
type HandshakeOp struct {
	h    Handshaker
	done bool
}

// NewHandshakeOp returns a handshake operation
func NewHandshakeOp(h Handshaker) *HandshakeOp {
	return &HandshakeOp{h: h}
}

// Step implements Op
func (op *HandshakeOp) Step() Result {
	if op.done {
		return Done
	}
	res := op.h.Handshake()
	if res.State == HasNext {
		op.done = true
	}
	return res
}

// Established tells whether the handshake has completed
func (op *HandshakeOp) Established() bool {
	return op.done
}

// maxSendFileChunk bounds a single sendfile call
const maxSendFileChunk = 1 << 30

// SendFileOp transmits a range of a file
type SendFileOp struct {
	s      FileSender
	in     int
	offset int64
	left   int64
}

// NewSendFileOp returns an operation sending count bytes of the file
// descriptor in, starting at offset
func NewSendFileOp(s FileSender, in int, offset, count int64) *SendFileOp {
	return &SendFileOp{s: s, in: in, offset: offset, left: count}
}

// Step implements Op
func (op *SendFileOp) Step() Result {
	if op.left < 0 || op.offset < 0 {
		return Failed(fmt.Errorf("invalid file range: offset %d, count %d", op.offset, op.left))
	}
	if op.left == 0 {
		return Done
	}
	n, res := op.s.SendFile(op.in, &op.offset, int(min(op.left, maxSendFileChunk)))
	if res.State != HasNext {
		return res
	}
	if n == 0 {
		// file is shorter than the requested range
		return Failed(io.ErrUnexpectedEOF)
	}
	op.left -= int64(n)
	if op.left == 0 {
		return Done
	}
	return res
}

// Offset returns the file offset of the next byte to send
func (op *SendFileOp) Offset() int64 {
	return op.offset
}

// Left returns the number of bytes still to send
func (op *SendFileOp) Left() int64 {
	return op.left
}
