// Package logx configures picbot's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - Optional JSON file sink
//   - Optional Telegram sink that forwards warnings/errors to the admin DM
//     (min-level + rate limiting), which is how background failures reach
//     the administrator.
package logx
