// Package server assembles the HTTP facade around a workspace.
//
// It builds the gin router, installs the middleware stack (request id,
// CORS, per-IP rate limiting, metrics), mounts the REST handlers, the
// Prometheus endpoint, the network-bridge websocket, and the hot-reload
// update stream, and drives graceful shutdown.
package server
