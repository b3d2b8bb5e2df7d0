package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with structured logging
//
// Usage in defer statements:
//
//	func emitEvents() {
//	    defer observability.RecoverPanic(logger, "audit emit")
//	    // ... code that might panic
//	}
//
// The function should be called in a defer statement. If a panic occurs,
// it will be recovered and logged at Error level with:
//   - panic value
//   - full stack trace
//   - context about where the panic occurred
//
// After logging, the panic is NOT re-raised - the function returns normally.
// This prevents the panic from crashing the process but may leave the system
// in an inconsistent state. Use carefully.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// RecoverPanicWithCallback recovers from a panic, logs it, and executes a callback
//
// Usage when cleanup is needed after a panic:
//
//	func worker() {
//	    defer observability.RecoverPanicWithCallback(logger, "retention worker", func() {
//	        close(resultCh)  // Cleanup action
//	    })
//	    // ... code that might panic
//	}
//
// The callback runs AFTER the panic has been logged, and only when a
// panic was actually recovered. This allows cleanup actions like closing
// channels, releasing locks, or updating state that would otherwise be
// skipped by the unwind.
func RecoverPanicWithCallback(logger *Logger, context string, callback func()) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
		if callback != nil {
			callback()
		}
	}
}

// MustRecover recovers from a panic and converts it to an error
//
// Usage when you want to convert panics to errors:
//
//	func decodeClaims() (result Claims, err error) {
//	    defer func() {
//	        err = observability.MustRecover(recover())
//	    }()
//	    // ... code that might panic
//	    return claims, nil
//	}
//
// If a panic occurred, returns an error describing the panic.
// If no panic (r is nil), returns nil.
//
// Note: The stack trace is NOT included in the error - use RecoverPanic
// for structured logging with full stack traces.
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
