// Package logger provides structured logging for the robot fleet control plane.
//
// This package offers a simple logging interface that supports structured
// fields and multiple log levels (no child or contextual loggers), matching the
// log level and message conventions the HTTP surface and orchestrator rely
// on: 5xx failures at Error, 4xx rejections at Warn, dispatch/token/
// notification bookkeeping at Info/Debug.
//
// # Log Levels
//
//   - DEBUG: per-request bookkeeping (entity reads, poll attempts)
//   - INFO: command dispatch, token acquire/release/refuge, state transitions
//   - WARN: client errors surfaced to callers (4xx)
//   - ERROR: upstream/transport failures surfaced to callers (5xx)
//
// # Structured logging
//
//	logger.Info("dispatched move command", map[string]interface{}{
//	    "robot_id": robotID,
//	    "cmd":      "navi",
//	})
//
// # Configuration
//
// The default level is set from the LOG_LEVEL environment variable
// (debug, info, warn, error) via internal/config.
package logger
