package test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ridge/parallel"
	"github.com/stretchr/testify/require"
)

// Group returns a parallel.Group with a testing context.
//
// If the group finishes with an error other than context.Canceled, the test is
// failed.
func Group(t testing.TB) *parallel.Group {
	return cleanup(t, parallel.NewGroup(Context(t)))
}

// GroupWithTimeout is a version of Group with a timeout
func GroupWithTimeout(t testing.TB, timeout time.Duration) *parallel.Group {
	return cleanup(t, parallel.NewGroup(ContextWithTimeout(t, timeout)))
}

func cleanup(t testing.TB, group *parallel.Group) *parallel.Group {
	t.Cleanup(func() {
		group.Exit(nil)
		if err := group.Wait(); !errors.Is(err, context.Canceled) {
			require.NoError(t, err)
		}
	})
	return group
}
