/*
Package monitoring provides metrics collection for termmux.

# Overview

Metrics are Prometheus collectors registered on an injected registry. The
Metrics type also implements terminal.Observer, so the multiplexer reports
session lifecycle, request outcomes and byte counts without importing
Prometheus itself.

# Features

- HTTP request metrics (latency, throughput, size)
- Terminal session metrics (active, created, ended by reason)
- Terminal request outcomes and input/output byte counts
- Spawn latency and failures
- WebSocket connection, message and drop metrics
- Uptime

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	mux := terminal.NewMultiplexer(adapter, cfg, terminal.WithObserver(metrics))
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(monitoring.Handler(reg)))

	timer := monitoring.NewTimer(metrics, "sessions")
	entries, err := mux.Sessions(ctx)
	timer.Stop(monitoring.StatusLabel(err))
*/
package monitoring
