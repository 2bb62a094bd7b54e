package poller

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Waker is an eventfd used to interrupt Epoll.Wait from another goroutine
type Waker struct {
	fd int
}

// NewWaker creates a Waker
func NewWaker() (*Waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create eventfd: %w", err)
	}
	return &Waker{fd: fd}, nil
}

// Fd returns the eventfd descriptor
func (w *Waker) Fd() int {
	return w.fd
}

// Wake makes the eventfd readable. Safe to call from any goroutine.
func (w *Waker) Wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(w.fd, buf[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) { // counter saturated: already awake
		return fmt.Errorf("failed to wake: %w", err)
	}
	return nil
}

// Drain resets the eventfd counter
func (w *Waker) Drain() error {
	var buf [8]byte
	_, err := unix.Read(w.fd, buf[:])
	if err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("failed to drain eventfd: %w", err)
	}
	return nil
}

// Close releases the eventfd
func (w *Waker) Close() error {
	return unix.Close(w.fd)
}
