// Package logging provides structured logging for symbridge.
//
// This package wraps a zap logger with convenience functions. Components take
// a *zap.Logger in their constructors; the CLI passes GetLogger() and tests
// pass zap.NewNop().
//
// # Log Levels
//
//   - Debug: RSP packets, register and memory transfers, handoff transitions
//   - Info: attach, run-to-address, exploration results
//   - Warn: skipped scenarios, failed cleanup
//   - Error: fatal failures
//
// Logging is silent unless --log-level or SYMBRIDGE_LOG_LEVEL is set, so CLI
// output stays readable by default:
//
//	SYMBRIDGE_LOG_LEVEL=debug symbridge run not_packed_elf64
//
// # Structured Logging
//
//	logging.Info("Stopped at breakpoint",
//	    zap.String("pc", "0x400af3"),
//	    zap.Int("signal", 5),
//	)
//
// HexDump formats memory for display; LogRawBytes logs it at debug level.
package logging
