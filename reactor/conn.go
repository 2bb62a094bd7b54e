package reactor

import (
	"context"
	"net"
	"runtime"
	"runtime/debug"

	"github.com/ridge/parallel"
	"github.com/ridge/pistonen/ioop"
	"github.com/ridge/pistonen/transport"
	"go.uber.org/zap"
	"time"
)

// park is what an execution context reports when it hands control back to
// the reactor
type park struct {
	done     bool
	interest ioop.Interest // when suspended
	err      error         // when done
}

// conn is the execution context of one connection. The handler runs in its
// own goroutine, but control passes between the reactor and the goroutine
// over unbuffered channels, so exactly one of them runs at a time.
type conn struct {
	h        handle
	fd       int
	timer    timer
	tr       transport.Transport
	peer     *net.TCPAddr
	accepted time.Time
	idle     time.Duration
	logger   *zap.Logger

	wake chan bool // reactor → context: true resumes, false destroys
	park chan park // context → reactor

	running         bool // the goroutine has been started and has not finished
	sockRegistered  bool
	timerRegistered bool
	announced       bool // the observer has seen the connection
	cancelled       bool // set before the context is told to unwind
	dead            bool
}

func (c *conn) info() ConnInfo {
	return ConnInfo{ID: c.h.id(), RemoteAddr: c.peer, Transport: c.tr.Kind(), Accepted: c.accepted}
}

// start launches the handler goroutine. It waits for the first resume.
func (c *conn) start(ctx context.Context, handler Handler) {
	c.running = true
	go c.run(ctx, handler)
}

func (c *conn) run(ctx context.Context, handler Handler) {
	var err error
	returned := false
	defer func() {
		if !returned {
			// either a panic or runtime.Goexit after destruction
			if p := recover(); p != nil {
				err = parallel.ErrPanic{Value: p, Stack: debug.Stack()}
			}
		}
		c.park <- park{done: true, err: err}
	}()

	if !<-c.wake {
		runtime.Goexit()
	}
	err = handler(ctx, &Socket{c: c})
	returned = true
}

// Suspend implements ioop.Suspender. A context that is unwinding never
// parks again: socket calls made by deferred functions end the goroutine
// on the spot.
func (c *conn) Suspend(interest ioop.Interest) {
	if c.cancelled {
		runtime.Goexit()
	}
	c.park <- park{interest: interest}
	if !<-c.wake {
		runtime.Goexit()
	}
}

// Touch implements ioop.Suspender. Activity pushes the idle deadline back.
func (c *conn) Touch() {
	if err := c.timer.Arm(c.idle); err != nil {
		c.logger.Debug("Failed to rearm idle timer", zap.Error(err))
	}
}

// resume passes control to the context and waits until it suspends again
// or finishes
func (c *conn) resume() park {
	c.wake <- true
	p := <-c.park
	if p.done {
		c.running = false
	}
	return p
}

// cancel destroys a suspended context: its goroutine unwinds without
// returning into the handler
func (c *conn) cancel() {
	if !c.running {
		return
	}
	c.cancelled = true
	c.wake <- false
	<-c.park
	c.running = false
}
