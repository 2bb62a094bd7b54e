package reactor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/ridge/pistonen/ioop"
	"github.com/ridge/pistonen/poller"
	"github.com/ridge/pistonen/tlog"
	"github.com/ridge/pistonen/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"time"
)

// journal records resource operations in the order they happen
type journal struct {
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

type fakeFacility struct {
	j          *journal
	modes      map[int]poller.Mode
	tags       map[int]uint64
	rearms     map[int][]poller.Mode
	failModify bool
}

func (f *fakeFacility) Add(fd int, mode poller.Mode, tag uint64) error {
	if _, ok := f.modes[fd]; ok {
		return fmt.Errorf("descriptor %d already registered", fd)
	}
	f.modes[fd], f.tags[fd] = mode, tag
	return nil
}

func (f *fakeFacility) Modify(fd int, mode poller.Mode, tag uint64) error {
	if f.failModify {
		return errors.New("modify failed")
	}
	if _, ok := f.modes[fd]; !ok {
		return fmt.Errorf("descriptor %d not registered", fd)
	}
	f.modes[fd], f.tags[fd] = mode, tag
	f.rearms[fd] = append(f.rearms[fd], mode)
	return nil
}

func (f *fakeFacility) Remove(fd int) error {
	if _, ok := f.modes[fd]; !ok {
		return fmt.Errorf("descriptor %d not registered", fd)
	}
	delete(f.modes, fd)
	delete(f.tags, fd)
	f.j.add("unregister %d", fd)
	return nil
}

func (f *fakeFacility) Wait([]poller.Event, int) (int, error) {
	return 0, errors.New("not supported")
}

func (f *fakeFacility) Close() error {
	return nil
}

type fakeClock struct {
	now time.Time
}

type fakeTimer struct {
	fd       int
	j        *journal
	clock    *fakeClock
	deadline time.Time
	armed    bool
	arms     int
}

func (t *fakeTimer) Fd() int {
	return t.fd
}

func (t *fakeTimer) Arm(d time.Duration) error {
	t.arms++
	t.armed = d > 0
	t.deadline = t.clock.now.Add(d)
	return nil
}

func (t *fakeTimer) Expired() (bool, error) {
	if t.armed && !t.clock.now.Before(t.deadline) {
		t.armed = false
		return true, nil
	}
	return false, nil
}

func (t *fakeTimer) Close() error {
	t.j.add("close %d", t.fd)
	return nil
}

// step is a scripted transport response
type step struct {
	data []byte
	res  ioop.Result
}

func data(s string) step {
	return step{data: []byte(s), res: ioop.Progress}
}

func suspend(interest ioop.Interest) step {
	return step{res: ioop.Suspended(interest)}
}

func fail(err error) step {
	return step{res: ioop.Failed(err)}
}

type fakeTransport struct {
	j          *journal
	fd         int
	reads      []step
	handshakes []step
	written    []byte
	readFn     func(p []byte) (int, ioop.Result)
	session    *tls.ConnectionState
	closeErr   error
}

func pop(steps *[]step) step {
	if len(*steps) == 0 {
		return suspend(ioop.Readable)
	}
	s := (*steps)[0]
	*steps = (*steps)[1:]
	return s
}

func (t *fakeTransport) Read(p []byte) (int, ioop.Result) {
	if t.readFn != nil {
		return t.readFn(p)
	}
	s := pop(&t.reads)
	return copy(p, s.data), s.res
}

func (t *fakeTransport) Write(p []byte) (int, ioop.Result) {
	t.written = append(t.written, p...)
	return len(p), ioop.Progress
}

func (t *fakeTransport) Handshake() ioop.Result {
	if len(t.handshakes) == 0 {
		return ioop.Progress
	}
	s := pop(&t.handshakes)
	if s.res.State == ioop.HasNext {
		t.session = &tls.ConnectionState{HandshakeComplete: true, Version: tls.VersionTLS13}
	}
	return s.res
}

func (t *fakeTransport) SendFile(int, *int64, int) (int, ioop.Result) {
	return 0, ioop.Failed(errors.New("not supported"))
}

func (t *fakeTransport) Kind() transport.Kind {
	return transport.KindTLS
}

func (t *fakeTransport) Session() *tls.ConnectionState {
	return t.session
}

func (t *fakeTransport) ZeroCopy() bool {
	return false
}

func (t *fakeTransport) Close() error {
	t.j.add("release %d", t.fd)
	return t.closeErr
}

type lifecycle struct {
	accepted []uint64
	closed   map[uint64]Reason
}

func (l *lifecycle) Accepted(info ConnInfo) {
	l.accepted = append(l.accepted, info.ID)
}

func (l *lifecycle) Closed(info ConnInfo, reason Reason, err error) {
	l.closed[info.ID] = reason
}

type harness struct {
	t          *testing.T
	r          *Reactor
	j          *journal
	facility   *fakeFacility
	clock      *fakeClock
	transports map[int]*fakeTransport
	timers     map[int]*fakeTimer // by socket descriptor
	lifecycle  *lifecycle
	logs       *observer.ObservedLogs

	pendingFD int
}

const idleTimeout = time.Second

func newHarness(t *testing.T, handler Handler) *harness {
	core, logs := observer.New(zap.DebugLevel)
	ctx := tlog.WithLogger(context.Background(), zap.New(core))

	h := &harness{
		t:          t,
		j:          &journal{},
		clock:      &fakeClock{now: time.Unix(1700000000, 0)},
		transports: map[int]*fakeTransport{},
		timers:     map[int]*fakeTimer{},
		lifecycle:  &lifecycle{closed: map[uint64]Reason{}},
		logs:       logs,
	}
	h.facility = &fakeFacility{
		j:      h.j,
		modes:  map[int]poller.Mode{},
		tags:   map[int]uint64{},
		rearms: map[int][]poller.Mode{},
	}

	sys := system{
		facility: h.facility,
		newTimer: func() (timer, error) {
			tm := &fakeTimer{fd: 1000 + h.pendingFD, j: h.j, clock: h.clock}
			h.timers[h.pendingFD] = tm
			return tm, nil
		},
		tune: func(int) error { return nil },
		closeFD: func(fd int) error {
			h.j.add("close %d", fd)
			return nil
		},
		newTransport: func(fd int, s ioop.Suspender, logger *zap.Logger) transport.Transport {
			return h.transports[fd]
		},
	}

	opts, err := Options{IdleTimeout: idleTimeout, StrictRelease: true, Observer: h.lifecycle}.normalize()
	require.NoError(t, err)
	h.r = newReactor(ctx, opts, handler, sys)
	t.Cleanup(h.r.shutdown)
	return h
}

// accept admits a connection on fd served by tr
func (h *harness) accept(fd int, tr *fakeTransport) *conn {
	tr.j, tr.fd = h.j, fd
	h.transports[fd] = tr
	h.pendingFD = fd
	handle := h.r.next
	h.r.admit(fd, &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 40000 + fd})
	return h.r.conns[handle]
}

func (h *harness) socketEvent(c *conn) {
	h.r.dispatch(poller.Event{Tag: c.h.tag(socketEvent), Mode: poller.In | poller.Out})
}

func (h *harness) timerEvent(c *conn) {
	h.r.dispatch(poller.Event{Tag: c.h.tag(timerEvent), Mode: poller.In})
}

func (h *harness) teardownJournal(fd int) []string {
	return []string{
		fmt.Sprintf("unregister %d", fd),
		fmt.Sprintf("unregister %d", 1000+fd),
		fmt.Sprintf("release %d", fd),
		fmt.Sprintf("close %d", fd),
		fmt.Sprintf("close %d", 1000+fd),
	}
}
