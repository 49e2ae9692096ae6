// Package installer resolves dependency ranges against the package
// registry, fetches package contents into the virtual filesystem, keeps the
// project manifest's dependency map current, and materializes declared
// binaries as runnable stubs under node_modules/.bin.
package installer
