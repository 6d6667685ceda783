package test

import (
	"context"
	"testing"
	"time"

	"github.com/ridge/trackmap/tlog"
)

// Context returns a new testing context carrying a logger that writes to the
// test log
func Context(t testing.TB) context.Context {
	ctx := context.Background()
	return tlog.WithLogger(ctx, tlog.NewForTesting(t))
}

// ContextWithTimeout is a version of Context with a timeout.
//
// If the timeout expires, the test context is closed with
// context.DeadlineExceeded.
func ContextWithTimeout(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(Context(t), timeout)
	t.Cleanup(cancel)
	return ctx
}
