// Package monitoring holds the diagnostic logger shared by the manifest
// resolver, the exposure stream and the telemetry cache.
package monitoring

import "log"

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

// Verbosef forwards to Logf only when verbose is set. Components that accept a
// verbose flag route their progress chatter through here; skips and failures
// always go straight to Logf.
func Verbosef(verbose bool, format string, v ...interface{}) {
	if verbose {
		Logf(format, v...)
	}
}
