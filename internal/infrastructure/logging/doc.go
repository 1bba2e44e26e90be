// Package logging provides structured logging for the bridge.
//
// It wraps log/slog so every component logs consistently: JSON or text
// output, level filtering, and service/version attributes on every entry.
//
// Configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log broker credentials or tokens.
package logging
