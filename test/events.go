package test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// EventTimeout is how long AssertForefrontEvents waits for each event
var EventTimeout = 3 * time.Second

// AssertForefrontEvents asserts that the expected events are the next ones
// received from ch, in order
func AssertForefrontEvents[T any](t testing.TB, ch <-chan T, expected ...T) bool {
	t.Helper()

	ok := true
	for i, e := range expected {
		timer := time.NewTimer(EventTimeout)
		select {
		case val, valOK := <-ch:
			timer.Stop()
			if !assert.Truef(t, valOK, "channel closed, index: %d", i) {
				return false
			}
			ok = assert.Equalf(t, e, val, "index: %d", i) && ok
		case <-timer.C:
			assert.Failf(t, "timeout", "index: %d", i)
			return false
		}
	}
	return ok
}

// AssertEvents asserts that the expected events were received from ch and
// that no other events are queued there
func AssertEvents[T any](t testing.TB, ch <-chan T, expected ...T) bool {
	t.Helper()

	if !AssertForefrontEvents(t, ch, expected...) {
		return false
	}

	ok := true
	for len(ch) > 0 {
		val, valOK := <-ch
		if !valOK {
			break
		}
		assert.Fail(t, "unexpected event", "%#v", val)
		ok = false
	}
	return ok
}
