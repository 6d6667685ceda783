package test

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type event struct {
	row, col int
}

func TestEventsEmptyOk(t *testing.T) {
	t.Parallel()
	test := &testing.T{}
	assert.True(t, AssertForefrontEvents(test, make(chan event)))
	assert.False(t, test.Failed())
}

func TestEventsEmptyUnexpected(t *testing.T) {
	t.Parallel()
	test := &testing.T{}
	assert.False(t, AssertForefrontEvents(test, make(chan event), event{1, 1}))
	assert.True(t, test.Failed())
}

func TestEventsOK(t *testing.T) {
	t.Parallel()
	test := &testing.T{}
	events := make(chan event, 1)
	events <- event{1, 2}
	assert.True(t, AssertForefrontEvents(test, events, event{1, 2}))
	assert.False(t, test.Failed())
}

func TestEventsMismatch(t *testing.T) {
	t.Parallel()
	test := &testing.T{}
	events := make(chan event, 1)
	events <- event{1, 2}
	assert.False(t, AssertForefrontEvents(test, events, event{2, 1}))
	assert.True(t, test.Failed())
}

func TestEventsClosed(t *testing.T) {
	t.Parallel()
	test := &testing.T{}
	events := make(chan event, 1)
	events <- event{1, 2}
	close(events)
	assert.False(t, AssertForefrontEvents(test, events, event{1, 2}, event{1, 2}))
	assert.True(t, test.Failed())
}

func TestEventsUnexpectedOK(t *testing.T) {
	t.Parallel()
	test := &testing.T{}
	events := make(chan event, 2)
	events <- event{1, 2}
	events <- event{3, 4}
	assert.True(t, AssertForefrontEvents(test, events, event{1, 2}))
	assert.False(t, test.Failed())
}

func TestEventsUnexpectedError(t *testing.T) {
	t.Parallel()
	test := &testing.T{}
	events := make(chan event, 2)
	events <- event{1, 2}
	events <- event{3, 4}
	assert.False(t, AssertEvents(test, events, event{1, 2}))
	assert.True(t, test.Failed())
}

func TestEventsSequence(t *testing.T) {
	t.Parallel()
	test := &testing.T{}
	events := make(chan event, 2)
	events <- event{1, 2}
	events <- event{3, 4}
	assert.True(t, AssertEvents(test, events, event{1, 2}, event{3, 4}))
	assert.False(t, test.Failed())
}
