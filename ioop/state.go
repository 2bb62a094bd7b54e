// Package ioop defines the four-state contract shared by every transport
// operation and the loop that drives an operation to completion across
// suspensions.
//
// A transport call never blocks. Each attempt reports one Result:
//
//   - Suspend: the call would block. The caller waits until the descriptor is
//     ready in Result.Interest and retries.
//   - Error: the connection is unusable. The caller abandons it.
//   - HasNext: progress was made and more is possible.
//   - Exhausted: the operation consumed its whole buffer. Terminal success.
//
// Suspend is the only state that touches readiness registration. The
// direction may change between two consecutive suspensions of the same
// operation (a TLS handshake may first want to write, then to read).
package ioop

import (
	"errors"
	"fmt"
)

// State is the outcome kind of one operation step
type State int

// State values
const (
	Suspend State = iota
	Error
	HasNext
	Exhausted
)

func (s State) String() string {
	switch s {
	case Suspend:
		return "suspend"
	case Error:
		return "error"
	case HasNext:
		return "has_next"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Interest is a readiness direction
type Interest uint8

// Interest values
const (
	Readable Interest = 1 << iota
	Writable
)

func (i Interest) String() string {
	switch i {
	case Readable:
		return "readable"
	case Writable:
		return "writable"
	case Readable | Writable:
		return "readable|writable"
	case 0:
		return "none"
	default:
		return fmt.Sprintf("Interest(%d)", uint8(i))
	}
}

// ErrPeerClosed is reported when the peer closes the connection while an
// operation still expects data
var ErrPeerClosed = errors.New("connection closed by peer")

// Result is the outcome of a single transport step
type Result struct {
	State State

	// Interest is the direction to wait for. Meaningful for Suspend only.
	Interest Interest

	// Err is the cause. Meaningful for Error only.
	Err error
}

// Progress is the Result of a step that transferred data
var Progress = Result{State: HasNext}

// Done is the Result of a step that finished the operation
var Done = Result{State: Exhausted}

// Suspended returns a Result asking to wait for the given direction
func Suspended(interest Interest) Result {
	return Result{State: Suspend, Interest: interest}
}

// Failed returns an Error Result carrying err
func Failed(err error) Result {
	return Result{State: Error, Err: err}
}

func (r Result) String() string {
	switch r.State {
	case Suspend:
		return "suspend(" + r.Interest.String() + ")"
	case Error:
		return fmt.Sprintf("error(%v)", r.Err)
	default:
		return r.State.String()
	}
}
