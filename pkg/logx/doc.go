// Package logx configures healthtimer's structured logging.
//
// Logger is a small value type on top of zerolog:
//   - console output stays readable (short timestamp + short caller)
//   - file output is JSON-structured
//   - an optional Telegram sink forwards warnings to the owner chat
//     (min-level + rate limiting)
package logx
