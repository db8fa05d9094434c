// Package logx configures calsched's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Per-component loggers via With(logx.String("comp", ...))
package logx
