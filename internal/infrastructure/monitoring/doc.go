/*
Package monitoring provides metrics collection for the terminal server.

# Overview

Prometheus collectors cover HTTP requests, terminal session lifecycle
(spawns, respawns, kills, natural exits, CLI installs, bytes moved) and
WebSocket connections.

# Usage

	metrics := monitoring.NewMetricsWith(prometheus.NewRegistry())

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(monitoring.Handler(registry)))

	manager := terminal.NewManager(opts).WithMetrics(metrics)
*/
package monitoring
