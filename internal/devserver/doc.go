// Package devserver hosts the virtual development servers: a bundler-style
// server that transforms and serves project files (with on-demand module
// bundling and hot-update push), and an application server with
// file-system routing, handler execution, and HTML generation. Both share
// one request/response contract and one lifecycle state machine, and both
// cache transform results keyed by content fingerprint.
package devserver
