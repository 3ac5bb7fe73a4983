package sched

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// Every scheduler started by a test must be shut down; leaked
	// workers fail the run.
	goleak.VerifyTestMain(m)
}
