// Package logx configures relaybot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - console output readable (short timestamp, short caller)
//   - file output JSON-structured
//   - an optional Telegram sink (min level, rate limited) posting to an operator chat
package logx
