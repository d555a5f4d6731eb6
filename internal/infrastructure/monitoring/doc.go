/*
Package monitoring provides Prometheus metrics for the server.

# Overview

Metrics live on a private registry so several servers (or tests) can
coexist in one process. They cover HTTP requests, block extraction and
execution, batch latency, session counts and WebSocket traffic.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

A nil *Metrics is valid and records nothing.
*/
package monitoring
