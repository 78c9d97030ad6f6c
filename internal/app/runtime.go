package app

import (
	"os"
	"sync/atomic"
)

const testModeEnv = "LEDGER_TEST_MODE"

const (
	testModeUnknown int32 = iota
	testModeOff
	testModeOn
)

var testMode atomic.Int32

// InTestMode reports whether binaries should return before touching Postgres,
// Redis or the network. The environment is read on first use.
func InTestMode() bool {
	if testMode.Load() == testModeUnknown {
		RefreshTestMode()
	}
	return testMode.Load() == testModeOn
}

// RefreshTestMode re-reads LEDGER_TEST_MODE.
func RefreshTestMode() {
	state := testModeOff
	if os.Getenv(testModeEnv) == "1" {
		state = testModeOn
	}
	testMode.Store(state)
}
