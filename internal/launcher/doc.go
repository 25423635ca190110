// Package launcher starts and stops a local gdbserver for symbridge.
//
// Launch runs `gdbserver host:port binary args...`, then polls the listening
// port with exponential backoff until the stub accepts connections or the
// start timeout passes. The returned Process owns the child; Stop interrupts
// it and kills it if it does not exit promptly.
//
// ValidatePrerequisites reports whether a gdbserver binary is on $PATH and
// whether a stub already answers at the configured address:
//
//	result, _ := launcher.ValidatePrerequisites(ctx, cfg)
//	fmt.Print(launcher.FormatPrerequisiteReport(result))
package launcher
