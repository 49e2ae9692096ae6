// Package app assembles the engine: one workspace pairs a virtual
// filesystem with its sandboxed runtime, transform pipeline, package
// installer, script runner, network bridge, and virtual dev servers.
//
// The Manager owns construction and teardown of all of these and enforces
// the port invariant: at most one virtual server per port at a time.
package app
