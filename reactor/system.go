package reactor

import (
	"net"

	"github.com/ridge/pistonen/ioop"
	"github.com/ridge/pistonen/poller"
	"github.com/ridge/pistonen/tnet"
	"github.com/ridge/pistonen/transport"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"time"
)

// facility is the readiness facility the reactor waits on
type facility interface {
	Add(fd int, mode poller.Mode, tag uint64) error
	Modify(fd int, mode poller.Mode, tag uint64) error
	Remove(fd int) error
	Wait(events []poller.Event, msec int) (int, error)
	Close() error
}

// timer is a connection's idle timer
type timer interface {
	Fd() int
	Arm(d time.Duration) error
	Expired() (bool, error)
	Close() error
}

// waker interrupts a blocked wait
type waker interface {
	Fd() int
	Wake() error
	Drain() error
	Close() error
}

// system bundles the operating system services the reactor uses
type system struct {
	facility     facility
	newTimer     func() (timer, error)
	accept       func(lfd int) (int, *net.TCPAddr, error)
	tune         func(fd int) error
	closeFD      func(fd int) error
	newTransport func(fd int, s ioop.Suspender, logger *zap.Logger) transport.Transport
}

func linuxSystem(ep *poller.Epoll, opts Options) system {
	tuning := tnet.TuneConfig{NoDelay: true, UserTimeout: opts.TCPUserTimeout}
	return system{
		facility: ep,
		newTimer: func() (timer, error) {
			return poller.NewTimer()
		},
		accept: tnet.Accept,
		tune: func(fd int) error {
			return tnet.Tune(fd, tuning)
		},
		closeFD: unix.Close,
		newTransport: func(fd int, s ioop.Suspender, logger *zap.Logger) transport.Transport {
			return transport.New(fd, s, opts.Transport, logger)
		},
	}
}
