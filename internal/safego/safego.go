// Package safego provides panic-recovering goroutine launchers for background work.
package safego

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged with the task name rather than crashing the process. Every
// fire-and-forget goroutine (provisioning tasks, event fan-out, jobs) uses this.
func Go(name string, fn func()) {
	go run(name, fn)
}

// Tracker launches recovered goroutines and lets the caller wait for all of
// them, e.g. to drain in-flight provisioning tasks during shutdown.
type Tracker struct {
	wg sync.WaitGroup
}

// Go launches fn like the package-level Go and tracks it until it returns.
func (t *Tracker) Go(name string, fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		run(name, fn)
	}()
}

// Wait blocks until every goroutine started through t has returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func run(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background goroutine",
				"task", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}
