// Package logx configures schedkit's structured logging.
//
// The package wraps zerolog behind a small Logger value so that:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - Sinks and level can be swapped at runtime without re-plumbing loggers
//
// The zero Logger is a safe no-op, so library code can take a logx.Logger
// without nil checks.
package logx
