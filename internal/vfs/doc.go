// Package vfs implements the in-memory virtual filesystem backing the
// sandboxed runtime.
//
// The tree is a single mutable structure with no internal locking beyond a
// coarse mutex guarding entry points; correctness of compound operations
// relies on the engine's cooperative single-threaded execution model. All
// operations are synchronous and mutate the tree immediately.
//
// Paths are POSIX-style and normalized on entry (see the vpath package);
// a path can never escape above the root. Failures carry Node-style error
// codes (ENOENT, EEXIST, ENOTDIR, ...) so shimmed third-party code can
// branch on err.code the way it would against a real runtime.
package vfs
