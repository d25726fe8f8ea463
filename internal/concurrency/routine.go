package concurrency

import (
	"log/slog"
	"runtime/debug"
)

// SafeGo launches fn in a goroutine that survives panics, so one project's
// refresh blowing up never takes the sweep or the daemon down with it.
// onPanic, when non-nil, receives the recovered value after fn's own defers
// have already run.
func SafeGo(fn func(), onPanic func(any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Recovered panicking refresh goroutine",
					"panic", r, "stack", string(debug.Stack()))
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
