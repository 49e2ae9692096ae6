// Package vpath implements POSIX-style path manipulation for the virtual
// filesystem, mirroring the semantics of the emulated runtime's path module.
//
// The standard library's path package is close but not identical: the
// emulated runtime preserves a single trailing behavior for ".." past the
// root, resolves against a caller-supplied working directory rather than the
// host process, and exposes Extname/Basename edge cases (leading dots,
// multiple dots) exactly as third-party code expects them.
//
// All functions operate on forward-slash paths only. Callers own
// normalization of host paths before handing them to this package.
package vpath
