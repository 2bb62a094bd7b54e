package test

import (
	"github.com/stretchr/testify/assert"
	"time"
)

// EventTimeout is how long the assertions below wait for each expected event
var EventTimeout = 3 * time.Second

// AssertForefrontEvents asserts that the expected list of events is received
// on ch, in order. Events queued after them are ignored.
func AssertForefrontEvents[T any](t assert.TestingT, ch <-chan T, expected ...T) bool {
	ok := true
	for i, e := range expected {
		timer := time.NewTimer(EventTimeout)
		select {
		case val, recvOK := <-ch:
			timer.Stop()
			if !assert.Truef(t, recvOK, "channel closed, index: %d", i) {
				return false
			}
			ok = assert.Equalf(t, e, val, "index: %d", i) && ok
		case <-timer.C:
			assert.Failf(t, "timeout", "waiting for event %#v, index: %d", e, i)
			return false
		}
	}
	return ok
}

// AssertEvents asserts that the expected list of events is received on ch
// and that no unexpected events are buffered in ch after them
func AssertEvents[T any](t assert.TestingT, ch <-chan T, expected ...T) bool {
	if !AssertForefrontEvents(t, ch, expected...) {
		return false
	}

	ok := true
	for len(ch) > 0 {
		val, recvOK := <-ch
		if !recvOK {
			break
		}
		assert.Fail(t, "unexpected event", "%#v", val)
		ok = false
	}
	return ok
}
