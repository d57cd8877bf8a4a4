// Package testutil holds helpers shared by tests that open real sockets.
package testutil

import (
	"os"
	"testing"
)

// SkipIfShort skips tests that bind network listeners when -short is set.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping listener test in short mode")
	}
}

// SkipWithoutLoopback skips when JOBQUEUE_TEST_NO_NETWORK is set, for
// sandboxes that forbid binding even to 127.0.0.1.
func SkipWithoutLoopback(t *testing.T) {
	t.Helper()
	SkipIfShort(t)
	if os.Getenv("JOBQUEUE_TEST_NO_NETWORK") != "" {
		t.Skip("skipping: loopback networking disabled")
	}
}
