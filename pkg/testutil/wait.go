// Package testutil provides test doubles and helpers shared by the
// go-panelsync packages.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"
)

// DiscardLogger drops everything.
var DiscardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// WaitFor is a generic utility to wait for a condition to be true.
// It returns nil if the condition becomes true within the timeout.
// It returns an error if the condition does not become true within the timeout.
func WaitFor(t *testing.T, description string, timeout time.Duration, condition func() bool) error {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("condition '%s' not met within %v", description, timeout)
}
