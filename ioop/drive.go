package ioop

import (
	"errors"
	"fmt"
)

// Op is a resumable operation. Step performs one attempt and advances the
// operation's cursor in place, so a suspended Op resumes where it stopped.
type Op interface {
	Step() Result
}

// Suspender is the execution context an operation runs in
type Suspender interface {
	// Suspend parks the caller until the descriptor is ready in the given
	// direction. If the context is destroyed while parked, Suspend does not
	// return.
	Suspend(interest Interest)

	// Touch records successful I/O activity
	Touch()
}

var errUnspecified = errors.New("operation failed")

// Drive steps op until it is exhausted or fails.
//
// yield is called after every HasNext step; returning false stops driving
// early without an error. A nil yield continues until the operation ends.
func Drive(s Suspender, op Op, yield func() bool) error {
	for {
		r := op.Step()
		switch r.State {
		case Suspend:
			s.Suspend(r.Interest)
		case HasNext:
			s.Touch()
			if yield != nil && !yield() {
				return nil
			}
		case Exhausted:
			s.Touch()
			return nil
		case Error:
			if r.Err == nil {
				return errUnspecified
			}
			return r.Err
		default:
			panic(fmt.Errorf("unexpected operation state %v", r.State))
		}
	}
}
