package reactor

import (
	"net"

	"github.com/ridge/pistonen/transport"
	"time"
)

// Reason tells why a connection ended
type Reason string

// Reason values
const (
	ReasonCompleted Reason = "completed"
	ReasonFailed    Reason = "failed"
	ReasonTimedOut  Reason = "timed-out"
	ReasonShutdown  Reason = "shutdown"
)

func (r Reason) String() string {
	return string(r)
}

// ConnInfo describes an accepted connection
type ConnInfo struct {
	ID         uint64
	RemoteAddr *net.TCPAddr
	Transport  transport.Kind
	Accepted   time.Time
}

// Observer receives connection lifecycle notifications. Methods are called
// from the reactor goroutine and must not block.
type Observer interface {
	Accepted(info ConnInfo)
	Closed(info ConnInfo, reason Reason, err error)
}

// Observers fans notifications out to several observers in order
type Observers []Observer

// Accepted implements Observer
func (obs Observers) Accepted(info ConnInfo) {
	for _, o := range obs {
		o.Accepted(info)
	}
}

// Closed implements Observer
func (obs Observers) Closed(info ConnInfo, reason Reason, err error) {
	for _, o := range obs {
		o.Closed(info, reason, err)
	}
}
