// Package monitoring holds the package-level loggers shared by the sensor
// workers, the fusion loop and the viewers.
package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level operational logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// diagEnabled gates Diagf. Per-scan and per-line messages are far too chatty
// for normal operation.
var diagEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDiagnostics turns Diagf output on or off.
func SetDiagnostics(enabled bool) {
	diagEnabled.Store(enabled)
}

// DiagnosticsEnabled reports whether Diagf currently emits anything.
func DiagnosticsEnabled() bool {
	return diagEnabled.Load()
}

// Diagf logs through Logf only when diagnostics are enabled.
func Diagf(format string, v ...interface{}) {
	if !diagEnabled.Load() {
		return
	}
	Logf("[diag] "+format, v...)
}
