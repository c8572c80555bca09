package bridge

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain checks for goroutine leaks after all tests in this package
// complete — the supervisor's reactor and retry goroutines are the parts
// most likely to leak if a test forgets to cancel its context.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
