// Package logging provides structured logging for Wellsite Core.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the update pipeline, the broker
// consumers and the socket server.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Correlation
//
// Messages that cross the broker carry a correlation id. Log them through
// WithCorrelation so every transition (deserialising, mapping, persisting,
// acknowledging) shares the same correlation_id field:
//
//	log := logger.WithCorrelation(env.CorrelationID)
//	log.Info("persisting document", "attempt", 1)
//
// Never log broker passwords or InfluxDB tokens.
package logging
