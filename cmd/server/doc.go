// Package main is the entry point for the isolation kernel server.
//
// The server boots a kernel from a bundle manifest, starts every app marked
// auto_start, and exposes the kernel entry points over HTTP:
//
//	client ──HTTP──> /procs/:pid/...  (calls made as a process)
//	       ──HTTP──> /apps, /irq, ... (host controls)
//	       <──WS───  /ws              (gate transitions, deliveries, terminations)
//
// The server provides:
//   - REST API for regions, windows, shared buffers, IPC and IRQs
//   - WebSocket stream of kernel events
//   - Snapshot export (JSON or zstd) and blocked-time statistics
//   - Prometheus metrics
//   - Rate limiting per process
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Production mode
//	./server -port 8700 -manifest ./bundle
//
//	# Development mode (colored logs, debug level)
//	./server -dev -log-level debug
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown; blocked calls return Aborted
package main
