// Package logger configures structured logging for meshkv.
//
// It builds log/slog handlers with:
//
//   - JSON (default) or text output
//   - A process-wide level that can change at runtime
//   - Redaction of secret-looking attributes such as encryption keys
//     and S3 credentials
//   - Context propagation of the logger and the operation id
package logger
