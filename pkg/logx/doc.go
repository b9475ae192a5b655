// Package logx configures joingate's structured logging.
//
// It is a small wrapper on top of zerolog that keeps:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured
//   - an optional Telegram sink to the operator chat (min-level + rate limiting)
package logx
