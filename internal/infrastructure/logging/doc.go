// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Terminal components log with a session_id field; stream handlers add a
// conn_id. Provider API keys never appear in a log field.
//
// Example Usage:
//
//	logger, err := logging.New(logging.Config{Level: "info"})
//	logger.Session("term-1").Info("Session spawned", zap.Int("pid", pid))
package logging
