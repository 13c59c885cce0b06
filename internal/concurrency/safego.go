// Package concurrency holds small helpers for launching background work.
package concurrency

import (
	"runtime/debug"

	"github.com/lukewestby/redboard/internal/logging"
)

// GoSafe runs fn in a new goroutine and recovers from panics, logging the
// panic and stack trace. Every long-running worker (singletons and
// per-session tasks) is started through GoSafe so a single panicking
// iteration of a fault-isolated loop cannot silently take the worker down.
func GoSafe(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Log.WithFields(map[string]any{
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("recovered panic in background goroutine")
			}
		}()
		fn()
	}()
}
