// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Logs go to stderr by default so stdout stays free for the CLI.
// Components receive a named *zap.Logger and attach the terminal id as a
// structured field rather than formatting it into the message.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	defer logger.Close()
//	mux := terminal.NewMultiplexer(adapter, cfg, terminal.WithLogger(logger.Component("terminal")))
//	logger.Error("Failed to bind", zap.Error(err))
package logging
