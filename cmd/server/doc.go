// Package main is the entry point for the glassbox engine server.
//
// The server hosts one workspace: an in-memory filesystem with a sandboxed
// scripting runtime, package installer, script runner, virtual dev servers,
// and the network bridge, all exposed over a REST + WebSocket facade.
//
// Configuration:
//   - Environment variables with the GLASSBOX prefix (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 4400
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
