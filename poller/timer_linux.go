package poller

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
	"time"
)

// Timer is a one-shot monotonic timerfd. It becomes readable when it
// expires.
type Timer struct {
	fd int
}

// NewTimer creates a disarmed timer
func NewTimer() (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create timer: %w", err)
	}
	return &Timer{fd: fd}, nil
}

// Fd returns the timer's descriptor
func (t *Timer) Fd() int {
	return t.fd
}

// Arm (re)starts the timer to expire after d. A pending expiration that
// has not been consumed yet is discarded. A zero d disarms the timer.
func (t *Timer) Arm(d time.Duration) error {
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(d.Nanoseconds())}
	if err := unix.TimerfdSettime(t.fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("failed to arm timer: %w", err)
	}
	return nil
}

// Expired consumes a pending expiration. It returns false if the timer has
// not expired since it was last armed, which happens when a readiness
// notification raced with a re-arm.
func (t *Timer) Expired() (bool, error) {
	var buf [8]byte
	_, err := unix.Read(t.fd, buf[:])
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, unix.EAGAIN):
		return false, nil
	default:
		return false, fmt.Errorf("failed to read timer: %w", err)
	}
}

// Close releases the timer
func (t *Timer) Close() error {
	return unix.Close(t.fd)
}
