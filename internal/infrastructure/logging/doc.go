// Package logging provides structured logging using uber/zap.
//
// Production builds log JSON; development builds log colored console lines.
// Each component takes a named child logger (kernel, credential, irq,
// http, ws, trace) and tags entries with the field helpers in this
// package so that pid, app, region, slot and status keys read the same
// everywhere.
//
// Example Usage:
//
//	logger := logging.NewFromLevel("debug", true)
//	logger.Named("kernel").Info("process started", logging.PID(pid), logging.App("sensor"))
//	logger.Warn("fatal status, aborting", logging.PID(pid), logging.Status(st))
package logging
