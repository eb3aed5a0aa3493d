package testutil

import (
	"testing"
	"time"
)

// Eventually polls cond until it returns true or timeout elapses, then
// fails the test naming what was awaited.
//
//	testutil.Eventually(t, 5*time.Second, "queue drained", func() bool { return b.Depth(q) == 0 })
func Eventually(t testing.TB, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %v waiting for %s", timeout, what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
