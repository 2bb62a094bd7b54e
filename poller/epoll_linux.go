package poller

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Event flags
const (
	In         Mode = unix.EPOLLIN
	Out        Mode = unix.EPOLLOUT
	PeerHangUp Mode = unix.EPOLLRDHUP
	HangUp     Mode = unix.EPOLLHUP
	Err        Mode = unix.EPOLLERR
	EdgeTrig   Mode = unix.EPOLLET
	OneShot    Mode = unix.EPOLLONESHOT
)

// Epoll is an epoll instance
type Epoll struct {
	fd  int
	raw []unix.EpollEvent
}

// NewEpoll creates an epoll instance reporting up to maxEvents events per
// Wait
func NewEpoll(maxEvents int) (*Epoll, error) {
	if maxEvents <= 0 {
		return nil, fmt.Errorf("invalid event batch size %d", maxEvents)
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("failed to create epoll instance: %w", err)
	}
	return &Epoll{fd: fd, raw: make([]unix.EpollEvent, maxEvents)}, nil
}

func epollEvent(mode Mode, tag uint64) *unix.EpollEvent {
	// The data slot is a 64-bit union; x/sys/unix exposes it as two int32
	// halves on every Linux architecture.
	return &unix.EpollEvent{
		Events: uint32(mode),
		Fd:     int32(uint32(tag)),
		Pad:    int32(uint32(tag >> 32)),
	}
}

func eventTag(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

// Add registers fd with the given flags and tag
func (ep *Epoll) Add(fd int, mode Mode, tag uint64) error {
	if err := unix.EpollCtl(ep.fd, unix.EPOLL_CTL_ADD, fd, epollEvent(mode, tag)); err != nil {
		return fmt.Errorf("failed to register descriptor %d: %w", fd, err)
	}
	return nil
}

// Modify replaces the flags and tag of a registered fd. With OneShot this
// re-arms a disabled registration.
func (ep *Epoll) Modify(fd int, mode Mode, tag uint64) error {
	if err := unix.EpollCtl(ep.fd, unix.EPOLL_CTL_MOD, fd, epollEvent(mode, tag)); err != nil {
		return fmt.Errorf("failed to rearm descriptor %d: %w", fd, err)
	}
	return nil
}

// Remove unregisters fd
func (ep *Epoll) Remove(fd int) error {
	if err := unix.EpollCtl(ep.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("failed to unregister descriptor %d: %w", fd, err)
	}
	return nil
}

// Wait blocks until at least one registered descriptor is ready or the
// timeout (in milliseconds, -1 for none) expires. It fills events and
// returns their number. An interrupted wait reports zero events.
func (ep *Epoll) Wait(events []Event, msec int) (int, error) {
	raw := ep.raw
	if len(events) < len(raw) {
		raw = raw[:len(events)]
	}
	n, err := unix.EpollWait(ep.fd, raw, msec)
	if errors.Is(err, unix.EINTR) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to wait for events: %w", err)
	}
	for i := range raw[:n] {
		events[i] = Event{Tag: eventTag(&raw[i]), Mode: Mode(raw[i].Events)}
	}
	return n, nil
}

// Close releases the epoll instance
func (ep *Epoll) Close() error {
	return unix.Close(ep.fd)
}
