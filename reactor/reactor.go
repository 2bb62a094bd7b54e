// Package reactor implements a single-threaded, readiness-driven TCP server
// core.
//
// One Reactor owns a listening socket and an epoll instance. Every accepted
// connection gets an execution context running the Handler and an idle
// timer. The Handler's socket operations suspend the context whenever the
// socket is not ready; the reactor rearms readiness interest in the
// requested direction and resumes the context when epoll reports it ready.
// At most one context runs at a time, and none runs while the reactor
// dispatches events.
//
// Socket and timer registrations of a connection carry the same handle in
// their epoll tag and differ in the tag's low bit. A connection ends when
// its handler returns, when an operation fails, when its timer expires
// without intervening I/O activity, or when the reactor shuts down. All
// four paths run the same teardown: both descriptors are unregistered
// before either is closed, and the transport session is released.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/ridge/parallel"
	"github.com/ridge/pistonen/ioop"
	"github.com/ridge/pistonen/poller"
	"github.com/ridge/pistonen/tlog"
	"github.com/ridge/pistonen/tnet"
	"github.com/ridge/pistonen/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"
	"time"
)

const socketModeBase = poller.EdgeTrig | poller.OneShot

// Reactor is the event loop
type Reactor struct {
	opts    Options
	handler Handler
	sys     system
	logger  *zap.Logger

	listenFD int
	addr     *net.TCPAddr
	waker    waker

	ctx    context.Context // handlers' base context, set by Run
	conns  map[handle]*conn
	next   handle
	events []poller.Event
}

// New creates the listening socket and the readiness facility. Any failure
// here is fatal for the server.
func New(ctx context.Context, opts Options, handler Handler) (*Reactor, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	lfd, addr, err := tnet.ListenTCP(opts.Host, opts.Port, opts.Backlog)
	if err != nil {
		return nil, err
	}
	ep, err := poller.NewEpoll(opts.MaxEvents)
	if err != nil {
		_ = unix.Close(lfd)
		return nil, err
	}
	w, err := poller.NewWaker()
	if err != nil {
		_ = ep.Close()
		_ = unix.Close(lfd)
		return nil, err
	}

	r := newReactor(ctx, opts, handler, linuxSystem(ep, opts))
	r.listenFD, r.addr, r.waker = lfd, addr, w

	// level-triggered: a connection left in the backlog reports again
	if err := ep.Add(lfd, poller.In, listenerTag); err != nil {
		r.close()
		return nil, fmt.Errorf("failed to register listening socket: %w", err)
	}
	if err := ep.Add(w.Fd(), poller.In, wakeTag); err != nil {
		r.close()
		return nil, fmt.Errorf("failed to register wakeup descriptor: %w", err)
	}
	return r, nil
}

func newReactor(ctx context.Context, opts Options, handler Handler, sys system) *Reactor {
	return &Reactor{
		opts:     opts,
		handler:  handler,
		sys:      sys,
		logger:   tlog.Get(ctx),
		listenFD: -1,
		ctx:      ctx,
		conns:    map[handle]*conn{},
		next:     firstHandle,
		events:   make([]poller.Event, opts.MaxEvents),
	}
}

// Addr returns the address the reactor listens on
func (r *Reactor) Addr() *net.TCPAddr {
	return r.addr
}

// Run serves connections until ctx is closed, then destroys every live
// connection, releases the listening socket and returns ctx.Err(). A
// failure of the readiness facility itself is returned immediately.
//
// Run must be called at most once.
func (r *Reactor) Run(ctx context.Context) error {
	r.ctx = ctx
	defer r.close()

	woken := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(woken)
		if err := r.waker.Wake(); err != nil {
			r.logger.Error("Failed to wake reactor", zap.Error(err))
		}
	})
	defer func() {
		// the waker must outlive a wakeup in flight
		if !stop() {
			<-woken
		}
	}()

	r.logger.Info("Serving connections", zap.Stringer("addr", r.addr), zap.String("transport", string(r.opts.Transport.Kind())))
	for {
		n, err := r.sys.facility.Wait(r.events, -1)
		if err != nil {
			r.shutdown()
			return err
		}
		for _, ev := range r.events[:n] {
			r.dispatch(ev)
		}
		if ctx.Err() != nil {
			r.shutdown()
			return ctx.Err()
		}
	}
}

func (r *Reactor) dispatch(ev poller.Event) {
	switch ev.Tag {
	case listenerTag:
		r.accept()
		return
	case wakeTag:
		if err := r.waker.Drain(); err != nil {
			r.logger.Error("Failed to drain wakeup descriptor", zap.Error(err))
		}
		return
	}

	h, kind := decodeTag(ev.Tag)
	c := r.conns[h]
	if c == nil {
		// the connection ended earlier in this batch
		return
	}
	switch kind {
	case timerEvent:
		r.expire(c)
	default:
		r.resume(c)
	}
}

func (r *Reactor) accept() {
	fd, peer, err := r.sys.accept(r.listenFD)
	switch {
	case err == nil:
		r.admit(fd, peer)
	case tnet.IsWouldBlock(err):
	case tnet.IsTransientAccept(err):
		r.logger.Warn("Failed to accept connection", zap.Error(err))
	default:
		r.logger.Error("Failed to accept connection", zap.Error(err))
	}
}

// admit sets up the execution context of an accepted connection and runs
// it until its first suspension
func (r *Reactor) admit(fd int, peer *net.TCPAddr) {
	h := r.next
	r.next = h.next()

	logger := r.logger.With(zap.Uint64("conn", h.id()), zap.Stringer("remoteAddr", peer))
	if err := r.sys.tune(fd); err != nil {
		logger.Debug("Failed to tune socket", zap.Error(err))
	}

	t, err := r.sys.newTimer()
	if err != nil {
		logger.Warn("Failed to create idle timer, dropping connection", zap.Error(err))
		if err := r.sys.closeFD(fd); err != nil {
			r.releaseFailed(logger, err)
		}
		return
	}

	c := &conn{
		h:        h,
		fd:       fd,
		timer:    t,
		peer:     peer,
		accepted: time.Now(),
		idle:     r.opts.IdleTimeout,
		logger:   logger,
		wake:     make(chan bool),
		park:     make(chan park),
	}
	c.tr = r.sys.newTransport(fd, c, logger)
	r.conns[h] = c

	if err := r.sys.facility.Add(fd, socketModeBase, h.tag(socketEvent)); err != nil {
		r.teardown(c, ReasonFailed, err)
		return
	}
	c.sockRegistered = true
	if err := r.sys.facility.Add(t.Fd(), poller.In, h.tag(timerEvent)); err != nil {
		r.teardown(c, ReasonFailed, err)
		return
	}
	c.timerRegistered = true
	if err := t.Arm(r.opts.IdleTimeout); err != nil {
		r.teardown(c, ReasonFailed, err)
		return
	}

	logger.Debug("Connection accepted", zap.String("transport", string(c.tr.Kind())))
	r.opts.Observer.Accepted(c.info())
	c.announced = true

	c.start(tlog.WithLogger(r.ctx, logger), r.handler)
	r.resume(c)
}

// resume runs the context until it suspends or finishes
func (r *Reactor) resume(c *conn) {
	p := c.resume()
	if p.done {
		if p.err != nil {
			r.teardown(c, ReasonFailed, p.err)
		} else {
			r.teardown(c, ReasonCompleted, nil)
		}
		return
	}
	if err := r.sys.facility.Modify(c.fd, socketModeBase|poller.ForInterest(p.interest), c.h.tag(socketEvent)); err != nil {
		r.destroy(c, ReasonFailed, err)
	}
}

func (r *Reactor) expire(c *conn) {
	expired, err := c.timer.Expired()
	switch {
	case err != nil:
		r.destroy(c, ReasonFailed, err)
	case expired:
		r.destroy(c, ReasonTimedOut, nil)
	}
	// otherwise activity rearmed the timer after it fired
}

// destroy ends a suspended context without resuming its handler
func (r *Reactor) destroy(c *conn, reason Reason, cause error) {
	c.cancel()
	r.teardown(c, reason, cause)
}

// teardown releases everything a connection owns. Both descriptors leave
// the readiness facility before either is closed.
func (r *Reactor) teardown(c *conn, reason Reason, cause error) {
	if c.dead {
		return
	}
	c.dead = true
	delete(r.conns, c.h)

	var err error
	if c.sockRegistered {
		err = multierr.Append(err, r.sys.facility.Remove(c.fd))
	}
	if c.timerRegistered {
		err = multierr.Append(err, r.sys.facility.Remove(c.timer.Fd()))
	}
	err = multierr.Append(err, c.tr.Close())
	err = multierr.Append(err, r.sys.closeFD(c.fd))
	err = multierr.Append(err, c.timer.Close())

	r.logEnd(c, reason, cause)
	if c.announced {
		r.opts.Observer.Closed(c.info(), reason, cause)
	}

	if err != nil {
		r.releaseFailed(c.logger, err)
	}
}

func (r *Reactor) releaseFailed(logger *zap.Logger, err error) {
	if r.opts.StrictRelease {
		panic(fmt.Errorf("failed to release connection resources: %w", err))
	}
	logger.Warn("Failed to release connection resources", zap.Error(err))
}

func (r *Reactor) logEnd(c *conn, reason Reason, cause error) {
	elapsed := zap.Duration("elapsed", time.Since(c.accepted))
	switch reason {
	case ReasonFailed:
		fields := append([]zap.Field{elapsed, zap.Error(cause)}, transport.ErrorFields(cause)...)
		var panicErr parallel.ErrPanic
		switch {
		case errors.Is(cause, ioop.ErrPeerClosed), tnet.IsPeerGone(cause):
			c.logger.Debug("Connection failed", fields...)
		case errors.As(cause, &panicErr):
			c.logger.Error("Connection failed", append(fields, zap.ByteString("stack", panicErr.Stack))...)
		default:
			c.logger.Info("Connection failed", fields...)
		}
	case ReasonTimedOut:
		c.logger.Debug("Connection timed out", elapsed)
	default:
		c.logger.Debug("Connection closed", elapsed, zap.Stringer("reason", reason))
	}
}

// shutdown destroys all live connections in accept order
func (r *Reactor) shutdown() {
	handles := maps.Keys(r.conns)
	slices.Sort(handles)
	for _, h := range handles {
		r.destroy(r.conns[h], ReasonShutdown, nil)
	}
}

func (r *Reactor) close() {
	var err error
	if r.listenFD >= 0 {
		err = multierr.Append(err, unix.Close(r.listenFD))
		r.listenFD = -1
	}
	if r.waker != nil {
		err = multierr.Append(err, r.waker.Close())
	}
	err = multierr.Append(err, r.sys.facility.Close())
	if err != nil {
		r.logger.Warn("Failed to release reactor resources", zap.Error(err))
	}
}
