package config

import (
	"fmt"
	"time"

	"github.com/muurk/symbridge/internal/handoff"
	"github.com/muurk/symbridge/internal/symbolic"
	"go.uber.org/multierr"
)

// Registry represents the entire user configuration file.
// Every section is optional; unset values keep the built-in defaults.
type Registry struct {
	Version  int              `yaml:"version"`
	LogLevel string           `yaml:"log_level,omitempty"`
	Target   *TargetPrefs     `yaml:"target,omitempty"`
	Explore  *ExplorePrefs    `yaml:"explore,omitempty"`
	Launcher *LauncherPrefs   `yaml:"launcher,omitempty"`
	Events   *EventPrefs      `yaml:"events,omitempty"`
	Stubs    map[string]*Stub `yaml:"stubs,omitempty"` // Keyed by host:port
}

// TargetPrefs configures the connection to the debug stub.
type TargetPrefs struct {
	Host            string        `yaml:"host,omitempty"`
	Port            int           `yaml:"port,omitempty"`
	DialTimeout     time.Duration `yaml:"dial_timeout,omitempty"`     // e.g. "5s"
	ConnectAttempts int           `yaml:"connect_attempts,omitempty"` // Spaced with exponential backoff
	ContinueTimeout time.Duration `yaml:"continue_timeout,omitempty"` // Zero waits forever
	NoAck           *bool         `yaml:"no_ack,omitempty"`           // Request QStartNoAckMode
	StackWindow     uint64        `yaml:"stack_window,omitempty"`     // Bytes captured around rsp/rbp
}

// ExplorePrefs configures the symbolic engine.
type ExplorePrefs struct {
	Searcher  string `yaml:"searcher,omitempty"`   // "bfs" or "dfs"
	MaxSteps  int    `yaml:"max_steps,omitempty"`  // Blocks per path
	MaxStates int    `yaml:"max_states,omitempty"` // States per exploration
	MaxNodes  int    `yaml:"max_nodes,omitempty"`  // Solver assignments per query
}

// LauncherPrefs configures how gdbserver is started.
type LauncherPrefs struct {
	GDBServer    string        `yaml:"gdbserver,omitempty"`     // Path or name on $PATH
	StartTimeout time.Duration `yaml:"start_timeout,omitempty"` // Wait for the stub to listen
}

// EventPrefs configures the handoff event stream.
type EventPrefs struct {
	Addr string `yaml:"addr,omitempty"` // e.g. "127.0.0.1:8765"
}

// Stub represents user-defined metadata for a debug stub seen before.
type Stub struct {
	Nickname string    `yaml:"nickname,omitempty"`
	Instance string    `yaml:"instance,omitempty"`  // mDNS instance name
	LastSeen time.Time `yaml:"last_seen,omitempty"` // Last discovery/connection time
}

// NewRegistry creates a new Registry with default values.
func NewRegistry() *Registry {
	return &Registry{
		Version: 1,
		Stubs:   make(map[string]*Stub),
	}
}

// GetStub retrieves stub metadata by address.
// Returns nil if the stub doesn't exist in the registry.
func (r *Registry) GetStub(addr string) *Stub {
	return r.Stubs[addr]
}

// EnsureStub ensures a stub entry exists in the registry.
func (r *Registry) EnsureStub(addr string) *Stub {
	if r.Stubs == nil {
		r.Stubs = make(map[string]*Stub)
	}
	if stub, exists := r.Stubs[addr]; exists {
		return stub
	}
	stub := &Stub{}
	r.Stubs[addr] = stub
	return stub
}

// UpdateStubLastSeen records that a stub was seen at addr.
func (r *Registry) UpdateStubLastSeen(addr, instance string) {
	stub := r.EnsureStub(addr)
	stub.LastSeen = time.Now()
	if instance != "" {
		stub.Instance = instance
	}
}

// Validate reports every problem in the registry.
func (r *Registry) Validate() error {
	var err error
	if r.Version != 1 {
		err = multierr.Append(err, fmt.Errorf("unsupported config version: %d (expected 1)", r.Version))
	}
	if r.LogLevel != "" {
		switch r.LogLevel {
		case "debug", "info", "warn", "error":
		default:
			err = multierr.Append(err, fmt.Errorf("log_level: unknown level %q", r.LogLevel))
		}
	}
	if t := r.Target; t != nil {
		if t.Port < 0 || t.Port > 65535 {
			err = multierr.Append(err, fmt.Errorf("target.port: %d out of range", t.Port))
		}
		if t.DialTimeout < 0 || t.ContinueTimeout < 0 {
			err = multierr.Append(err, fmt.Errorf("target: timeouts must not be negative"))
		}
		if t.ConnectAttempts < 0 {
			err = multierr.Append(err, fmt.Errorf("target.connect_attempts: %d is negative", t.ConnectAttempts))
		}
	}
	if e := r.Explore; e != nil {
		if _, serr := symbolic.NewSearcher(e.Searcher); serr != nil {
			err = multierr.Append(err, fmt.Errorf("explore.searcher: %w", serr))
		}
		if e.MaxSteps < 0 || e.MaxStates < 0 || e.MaxNodes < 0 {
			err = multierr.Append(err, fmt.Errorf("explore: limits must not be negative"))
		}
	}
	if l := r.Launcher; l != nil && l.StartTimeout < 0 {
		err = multierr.Append(err, fmt.Errorf("launcher.start_timeout: must not be negative"))
	}
	return err
}

// ApplyHandoff overlays the target section onto cfg.
func (r *Registry) ApplyHandoff(cfg *handoff.Config) {
	t := r.Target
	if t == nil {
		return
	}
	if t.Host != "" {
		cfg.Transport.Host = t.Host
	}
	if t.Port != 0 {
		cfg.Transport.Port = t.Port
	}
	if t.DialTimeout != 0 {
		cfg.Transport.DialTimeout = t.DialTimeout
	}
	if t.ConnectAttempts != 0 {
		cfg.Transport.ConnectAttempts = t.ConnectAttempts
	}
	if t.ContinueTimeout != 0 {
		cfg.Transport.ContinueTimeout = t.ContinueTimeout
	}
	if t.NoAck != nil {
		cfg.Transport.NoAckMode = *t.NoAck
	}
	if t.StackWindow != 0 {
		cfg.Target.StackWindow = t.StackWindow
	}
}

// ApplyExplore overlays the explore section onto cfg.
func (r *Registry) ApplyExplore(cfg *symbolic.Config) {
	e := r.Explore
	if e == nil {
		return
	}
	if e.Searcher != "" {
		cfg.Searcher = e.Searcher
	}
	if e.MaxSteps != 0 {
		cfg.MaxSteps = e.MaxSteps
	}
	if e.MaxStates != 0 {
		cfg.MaxStates = e.MaxStates
	}
}

// SolverNodes returns the solver budget, or the default when unset.
func (r *Registry) SolverNodes() int {
	if r.Explore == nil || r.Explore.MaxNodes == 0 {
		return symbolic.DefaultMaxNodes
	}
	return r.Explore.MaxNodes
}
