package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers a panic in a background goroutine and logs it with
// the stack. It must be deferred directly:
//
//	defer observability.RecoverPanic(logger, "predictive refresh")
//
// The goroutine then returns normally instead of taking the process down.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		OrNop(logger).WithFields(map[string]interface{}{
			"panic": fmt.Sprint(r),
			"stack": string(debug.Stack()),
			"where": where,
		}).Error("PANIC recovered")
	}
}
