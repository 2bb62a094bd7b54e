package admin

import (
	"context"
	"sync"

	"github.com/eapache/queue"
	"github.com/ridge/pistonen/reactor"
	"time"
)

// Event is a connection lifecycle event
type Event struct {
	Time       time.Time `json:"time"`
	Kind       string    `json:"kind"` // "accepted" or "closed"
	ID         uint64    `json:"id"`
	RemoteAddr string    `json:"remoteAddr"`
	Transport  string    `json:"transport"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// subscriberBuffer is the number of events a slow subscriber may lag behind
// before events are dropped for it
const subscriberBuffer = 256

// Feed is a reactor.Observer keeping the most recent lifecycle events and
// broadcasting new ones to subscribers. It never blocks the reactor: events
// a subscriber cannot take are dropped for that subscriber.
type Feed struct {
	size int

	mu          sync.Mutex
	history     *queue.Queue
	subscribers map[chan Event]struct{}
	dropped     uint64
}

// NewFeed creates a Feed remembering up to size events
func NewFeed(size int) *Feed {
	return &Feed{
		size:        size,
		history:     queue.New(),
		subscribers: map[chan Event]struct{}{},
	}
}

// Accepted implements reactor.Observer
func (f *Feed) Accepted(info reactor.ConnInfo) {
	f.publish(newEvent("accepted", info))
}

// Closed implements reactor.Observer
func (f *Feed) Closed(info reactor.ConnInfo, reason reactor.Reason, err error) {
	e := newEvent("closed", info)
	e.Reason = string(reason)
	if err != nil {
		e.Error = err.Error()
	}
	f.publish(e)
}

func newEvent(kind string, info reactor.ConnInfo) Event {
	return Event{
		Time:       time.Now(),
		Kind:       kind,
		ID:         info.ID,
		RemoteAddr: info.RemoteAddr.String(),
		Transport:  string(info.Transport),
	}
}

func (f *Feed) publish(e Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.history.Add(e)
	for f.history.Length() > f.size {
		f.history.Remove()
	}
	for ch := range f.subscribers {
		select {
		case ch <- e:
		default:
			f.dropped++
		}
	}
}

// Recent returns the remembered events, oldest first
func (f *Feed) Recent() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recent()
}

func (f *Feed) recent() []Event {
	res := make([]Event, 0, f.history.Length())
	for i := 0; i < f.history.Length(); i++ {
		res = append(res, f.history.Get(i).(Event))
	}
	return res
}

// Dropped returns the number of events dropped for slow subscribers
func (f *Feed) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Subscribe returns the remembered events and a channel delivering every
// later event. The subscription ends when ctx is closed; the channel is
// closed then.
func (f *Feed) Subscribe(ctx context.Context) ([]Event, <-chan Event) {
	ch := make(chan Event, subscriberBuffer)

	f.mu.Lock()
	recent := f.recent()
	f.subscribers[ch] = struct{}{}
	f.mu.Unlock()

	context.AfterFunc(ctx, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subscribers, ch)
		close(ch)
	})
	return recent, ch
}
