// Package logging provides structured logging for the Venus bridge.
//
// It wraps log/slog with JSON (default) or text output, level filtering and
// default fields (service, version) on every entry:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Components take a small Logger interface of their own so they can be
// tested without this package; *Logger satisfies all of them.
package logging
