// Package main is the entry point for termmux.
//
// termmux runs shells on pseudo-terminals and multiplexes them to web front
// ends. Front ends connect to /ws and exchange JSON messages (terminal-create,
// terminal-write, terminal-data, terminal-exit, ...); a small REST API and
// Prometheus metrics are served alongside.
//
// Configuration:
//   - Defaults for local use (127.0.0.1:8000)
//   - Optional TOML or YAML file (--config or $TERMMUX_CONFIG)
//   - Environment variables (12-factor)
//   - CLI flags (override everything else)
//
// Usage:
//
//	# Serve on the default address
//	termmux
//
//	# Development mode (colored logs, debug level)
//	termmux --dev --port 9000 --shell /bin/zsh
//
//	# Show the effective configuration
//	termmux config --config termmux.toml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown; every terminal is killed and front
//     ends receive the final exit notifications before the process exits
package main
