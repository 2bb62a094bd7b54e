// Package poller wraps the Linux readiness primitives used by the reactor:
// epoll for readiness notification, timerfd for per-connection idle
// timeouts and eventfd for waking a blocked wait from another goroutine.
package poller

import (
	"github.com/ridge/pistonen/ioop"
)

// Mode is a set of epoll event flags
type Mode uint32

// Event is one readiness notification
type Event struct {
	// Tag is the opaque value the descriptor was registered with
	Tag uint64

	// Mode holds the reported readiness flags
	Mode Mode
}

// Readable tells whether the event reports read readiness or hangup
func (e Event) Readable() bool {
	return e.Mode&(In|HangUp|Err) != 0
}

// Writable tells whether the event reports write readiness or error
func (e Event) Writable() bool {
	return e.Mode&(Out|Err) != 0
}

// ForInterest converts readiness directions to event flags
func ForInterest(interest ioop.Interest) Mode {
	var m Mode
	if interest&ioop.Readable != 0 {
		m |= In | PeerHangUp
	}
	if interest&ioop.Writable != 0 {
		m |= Out
	}
	return m
}
