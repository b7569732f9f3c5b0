// Package monitoring holds the process-wide logging streams.
//
// Three streams are kept apart so operators can route them independently:
// ops carries actionable failures (scene sync timeouts, motion failures,
// dropped observations), diag carries day-to-day cycle diagnostics, and
// trace carries per-observation telemetry.
package monitoring

import (
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

var (
	opsLogger   atomic.Pointer[log.Logger]
	diagLogger  atomic.Pointer[log.Logger]
	traceLogger atomic.Pointer[log.Logger]
)

func init() {
	opsLogger.Store(newLogger(os.Stderr))
}

// SetLogWriters configures the three logging streams.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger.Store(newLogger(ops))
	diagLogger.Store(newLogger(diag))
	traceLogger.Store(newLogger(trace))
}

func newLogger(w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, "", log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream (actionable warnings and failures).
func Opsf(format string, args ...interface{}) {
	if l := opsLogger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// Diagf logs to the diag stream (cycle progress, tuning context).
func Diagf(format string, args ...interface{}) {
	if l := diagLogger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs to the trace stream (per-observation telemetry).
func Tracef(format string, args ...interface{}) {
	if l := traceLogger.Load(); l != nil {
		l.Printf(format, args...)
	}
}

// DO NOT add Debugf. Each callsite picks ops, diag or trace.
