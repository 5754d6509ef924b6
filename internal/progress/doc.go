// Package progress carries run and per-target milestones from the
// orchestrator to pluggable sinks. Emitters never block: the Hub buffers
// events and flushes them in batches on its own goroutine.
package progress
