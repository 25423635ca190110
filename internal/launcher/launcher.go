package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

// stopGrace is how long Stop waits after an interrupt before killing.
const stopGrace = 2 * time.Second

// Config holds the configuration for launching gdbserver.
type Config struct {
	// GDBServerPath is the gdbserver binary.
	// Default: "gdbserver" (searches PATH)
	GDBServerPath string

	// Host and Port are where gdbserver listens.
	// Default: 127.0.0.1:9999
	Host string
	Port int

	// Options are passed to gdbserver before the listen address. Do not
	// pass --once: the readiness probe would use up the only connection.
	Options []string

	// Binary is the program to debug; Args are its arguments.
	Binary string
	Args   []string

	// StartTimeout bounds the wait for the port to accept connections.
	// Default: 10 seconds
	StartTimeout time.Duration

	// Output receives gdbserver's stdout and stderr in addition to the
	// captured copy. Optional.
	Output io.Writer
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		GDBServerPath: "gdbserver",
		Host:          "127.0.0.1",
		Port:          9999,
		StartTimeout:  10 * time.Second,
	}
}

// Address returns the listen address as host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// argv builds the gdbserver command line.
func (c Config) argv() []string {
	args := make([]string, 0, len(c.Options)+2+len(c.Args))
	args = append(args, c.Options...)
	args = append(args, c.Address(), c.Binary)
	return append(args, c.Args...)
}

// Process is a running gdbserver.
type Process struct {
	config Config
	logger *zap.Logger
	cmd    *exec.Cmd
	output *outputBuffer

	done    chan struct{}
	waitErr error
}

// Launch starts gdbserver and waits until its port accepts connections.
// On failure the child is stopped before returning.
func Launch(ctx context.Context, config Config, logger *zap.Logger) (*Process, error) {
	if config.Binary == "" {
		return nil, &PrerequisiteError{
			Prerequisite: "target binary",
			Details:      "No program to debug was given",
		}
	}
	if config.GDBServerPath == "" {
		config.GDBServerPath = DefaultConfig().GDBServerPath
	}
	if config.StartTimeout <= 0 {
		config.StartTimeout = DefaultConfig().StartTimeout
	}

	path, err := exec.LookPath(config.GDBServerPath)
	if err != nil {
		return nil, &PrerequisiteError{
			Prerequisite: "gdbserver",
			Details:      fmt.Sprintf("%s not found", config.GDBServerPath),
			Err:          err,
		}
	}

	output := &outputBuffer{tee: config.Output}
	cmd := exec.Command(path, config.argv()...)
	cmd.Stdout = output
	cmd.Stderr = output

	logger.Info("starting gdbserver",
		zap.String("path", path),
		zap.String("address", config.Address()),
		zap.String("binary", config.Binary),
		zap.Strings("args", config.Args),
	)

	if err := cmd.Start(); err != nil {
		return nil, &PrerequisiteError{
			Prerequisite: "gdbserver",
			Details:      fmt.Sprintf("Failed to start %s", path),
			Err:          err,
		}
	}

	p := &Process{
		config: config,
		logger: logger,
		cmd:    cmd,
		output: output,
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	if err := p.waitReady(ctx); err != nil {
		_ = p.Stop()
		return nil, err
	}

	logger.Info("gdbserver listening",
		zap.String("address", config.Address()),
		zap.Int("pid", p.Pid()),
	)
	return p, nil
}

// waitReady polls the listen address until it accepts a connection, the
// child exits, or the start timeout passes.
func (p *Process) waitReady(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.config.StartTimeout)
	defer cancel()
	go func() {
		select {
		case <-p.done:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	address := p.config.Address()
	probe := func() error {
		dialer := net.Dialer{Timeout: 500 * time.Millisecond}
		conn, err := dialer.DialContext(waitCtx, "tcp", address)
		if err != nil {
			p.logger.Debug("gdbserver not listening yet",
				zap.String("address", address),
				zap.Error(err),
			)
			return err
		}
		// Closing the probe frees gdbserver for the real client.
		return conn.Close()
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	policy.MaxElapsedTime = p.config.StartTimeout

	err := backoff.Retry(probe, backoff.WithContext(policy, waitCtx))
	if err == nil {
		return nil
	}

	select {
	case <-p.done:
		return &ExitedError{Address: address, Output: p.Output(), Err: p.waitErr}
	default:
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &TimeoutError{Address: address, Timeout: p.config.StartTimeout}
}

// Address returns the address gdbserver listens on.
func (p *Process) Address() string {
	return p.config.Address()
}

// Pid returns the gdbserver process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed when gdbserver exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Output returns everything gdbserver printed so far.
func (p *Process) Output() string {
	return p.output.String()
}

// Stop interrupts gdbserver and kills it if it does not exit within a grace
// period. Stopping an exited process is a no-op.
func (p *Process) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}

	p.logger.Info("stopping gdbserver", zap.Int("pid", p.Pid()))
	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		p.logger.Debug("interrupt failed, killing", zap.Error(err))
		return p.kill()
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(stopGrace):
		p.logger.Warn("gdbserver ignored interrupt, killing", zap.Int("pid", p.Pid()))
		return p.kill()
	}
}

func (p *Process) kill() error {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill gdbserver: %w", err)
	}
	<-p.done
	return nil
}

// outputBuffer collects child output; writes come from exec's copy goroutine.
type outputBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	tee io.Writer
}

func (b *outputBuffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tee != nil {
		_, _ = b.tee.Write(data)
	}
	return b.buf.Write(data)
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
