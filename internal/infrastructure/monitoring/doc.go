/*
Package monitoring provides metrics collection for the isolation kernel.

# Overview

Metrics implements kernel.Recorder, so every kernel call, gate transition,
delivery, timeout and termination lands in a Prometheus collector. HTTP and
WebSocket traffic of the API is tracked alongside.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	k.WithRecorder(metrics)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(monitoring.Handler(reg)))

Summarize turns Kernel.BlockedDurations into mean and quantiles.
*/
package monitoring
