// Package config provides user configuration management for symbridge.
//
// This package manages an optional YAML configuration file holding the debug
// stub address, transport timeouts, exploration limits, the gdbserver path,
// the event stream address, and metadata for stubs seen before. Command-line
// flags override file values; unset values keep the built-in defaults.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/symbridge/config.yaml or $HOME/.config/symbridge/config.yaml
//   - macOS: $HOME/.config/symbridge/config.yaml
//   - Windows: %LOCALAPPDATA%\symbridge\config.yaml
//
// The --config flag loads a different file with LoadFile.
//
// # Example
//
//	version: 1
//	log_level: info
//	target:
//	  host: 127.0.0.1
//	  port: 1234
//	  continue_timeout: 30s
//	explore:
//	  searcher: dfs
//	  max_steps: 500
//	events:
//	  addr: 127.0.0.1:8765
//
// # Usage Example
//
//	registry, err := config.LoadRegistry()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg := handoff.DefaultConfig()
//	registry.ApplyHandoff(&cfg)
//
// # Thread Safety
//
// The global registry uses sync.Once for safe initialization across goroutines.
// File operations are protected by a mutex to ensure atomic writes.
package config
