package tnet

import (
	"errors"
	"io"
	"strings"
	"syscall"
)

// IsWouldBlock returns if the error means a nonblocking call found the
// descriptor not ready
func IsWouldBlock(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}

// IsClosedConnectionError returns if the passed error is "closed network connection".
func IsClosedConnectionError(err error) bool {
	// error is not exported from net, so it can't be directly matched using errors.Is.
	return err != nil && strings.HasSuffix(err.Error(), "use of closed network connection")
}

// IsPeerGone returns if the error only says that the other side went away.
// Such errors are routine and are logged at debug level.
func IsPeerGone(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		IsClosedConnectionError(err)
}

// IsTransientAccept returns if an accept failure leaves the listener usable
func IsTransientAccept(err error) bool {
	return IsWouldBlock(err) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPROTO) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM)
}
