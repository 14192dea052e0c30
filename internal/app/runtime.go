package app

import (
	"os"
	"strconv"
	"sync"
)

const testModeEnv = "EVDMS_TEST_MODE"

// InTestMode reports whether binaries should return before opening
// connections. The environment is read on first call only.
var InTestMode = sync.OnceValue(func() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	return on
})
