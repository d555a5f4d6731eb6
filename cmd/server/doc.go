// Package main is the entry point for the uiblocks server.
//
// The server hosts UI-block sessions: terminal output delivered to a
// session has its embedded blocks stripped, compiled and run against the
// session's Canvas, Sound, Browser and Session capabilities.
//
// Architecture:
//
//	terminal / uiblock-pipe → HTTP API → engine directory → capabilities
//	                                   → history (sqlite)
//	                        ← WebSocket event stream
//
// The server provides:
//   - REST API for sessions, terminals and intrinsics
//   - WebSocket streaming of engine and browser events
//   - gRPC health service
//   - Prometheus metrics
//
// Configuration:
//   - Environment variables (12-factor), see internal/infrastructure/config
//   - An optional YAML or TOML file named by UIBLOCKS_CONFIG
//   - CLI flags (override both)
//
// Usage:
//
//	# Production mode
//	./server -port 8000 -grpc localhost:50061
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
