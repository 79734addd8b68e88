// Package server wires termmux together and owns its lifecycle.
//
// This package orchestrates all components:
//   - Prometheus registry and terminal metrics
//   - PTY adapter guarded by a spawn circuit breaker
//   - Terminal multiplexer loop
//   - Websocket hub bridging front ends to the multiplexer
//   - HTTP routing with Gin (REST API, /metrics, /ws)
//
// Server Lifecycle:
//  1. Validate configuration
//  2. Initialize logger (production or development)
//  3. Create metrics, adapter, multiplexer and hub
//  4. Setup HTTP routes and middleware
//  5. Run multiplexer, hub and HTTP server in one errgroup
//  6. On cancellation stop HTTP, kill every terminal, drain notifications
//
// Example Usage:
//
//	cfg, err := config.Load(path)
//	srv, err := server.New(cfg, server.WithVersion(version))
//	defer srv.Close()
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package server
