// Package sandbox hosts the emulated scripting runtime: a goja VM wired to
// the virtual filesystem through a synchronous CommonJS-style module loader,
// plus shims for the standard-library surface (path, fs, process, buffer,
// crypto, assert, events, stream, worker-thread stubs).
//
// Execution is single-threaded and cooperative; the Runtime's entry points
// serialize on an internal mutex so multiple goroutines can share one
// instance. Module bodies run synchronously at most once and are cached by
// resolved absolute path; the cache is invalidated in place when the
// backing file changes, because closures elsewhere hold references to the
// cache object. A next-tick microtask queue drains after each synchronous
// entry into the VM, before any timer callbacks run.
package sandbox
