package otel

import (
	"os"
	"sync/atomic"
)

var traceEnabled atomic.Bool

func init() {
	traceEnabled.Store(os.Getenv("CHATFEED_TRACE") != "")
}

// TraceEnabled reports whether CHATFEED_TRACE is set. When true the UI emits
// one event per bubbletea message received and handled.
func TraceEnabled() bool {
	return traceEnabled.Load()
}

func setTraceEnabled(v bool) {
	traceEnabled.Store(v)
}
