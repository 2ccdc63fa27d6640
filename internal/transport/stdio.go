package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/mcpd/internal/protocol"
)

// DefaultShutdownTimeout is the grace period given to a child process after
// stdin closes before it is forcibly killed.
const DefaultShutdownTimeout = 5 * time.Second

// CommandConfig configures a child-process stdio transport.
type CommandConfig struct {
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args" json:"args,omitempty"`
	Env     map[string]string `yaml:"env" json:"env,omitempty"`
	WorkDir string            `yaml:"workdir" json:"workdir,omitempty"`

	// ShutdownTimeout is the grace period before the process is killed on
	// Close. Zero selects DefaultShutdownTimeout.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout,omitempty"`
}

// Validate checks the command configuration for injection hazards.
func (c *CommandConfig) Validate() error {
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	if err := validatePath(c.Command, "command"); err != nil {
		return err
	}
	if c.WorkDir != "" {
		if err := validatePath(c.WorkDir, "workdir"); err != nil {
			return err
		}
	}
	for i, arg := range c.Args {
		if containsShellMetachars(arg) {
			return fmt.Errorf("arg[%d] contains suspicious shell metacharacters: %q", i, arg)
		}
	}
	return nil
}

// validatePath checks a path for traversal attacks.
func validatePath(path, fieldName string) error {
	if path == "" {
		return nil
	}
	cleaned := filepath.Clean(path)
	if strings.Contains(cleaned, "..") {
		return fmt.Errorf("%s contains path traversal: %q", fieldName, path)
	}
	return nil
}

// containsShellMetachars checks for shell metacharacters that could
// indicate injection. Spaces and quotes are allowed since they are common
// in legitimate args.
func containsShellMetachars(s string) bool {
	dangerousPatterns := []string{
		"$(", "${",
		"`",
		"&&", "||",
		";",
		"|",
		">", "<",
		"\n", "\r",
	}
	for _, pattern := range dangerousPatterns {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}

// CommandTransport runs an MCP peer as a child process and frames messages
// over its stdin/stdout.
type CommandTransport struct {
	*StreamTransport

	config  CommandConfig
	logger  *slog.Logger
	process *exec.Cmd
	stdin   io.WriteCloser
}

// StartCommand validates the config, spawns the child process and wires a
// stream transport over its pipes. The child's environment is the parent
// environment with the configured variables merged on top.
func StartCommand(ctx context.Context, cfg CommandConfig, logger *slog.Logger) (*CommandTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, _ := cmd.StderrPipe()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	logger = logger.With("transport", "stdio", "command", cfg.Command)
	logger.Info("started MCP peer process", "pid", cmd.Process.Pid)

	t := &CommandTransport{
		config:  cfg,
		logger:  logger,
		process: cmd,
		stdin:   stdin,
	}
	t.StreamTransport = NewStreamTransport(stdout, stdin, logger)
	t.StreamTransport.onClose = t.shutdown

	if stderr != nil {
		go t.logStderr(stderr)
	}

	return t, nil
}

// shutdown closes stdin and waits for the process to exit, killing it after
// the grace period.
func (t *CommandTransport) shutdown() error {
	t.stdin.Close()

	timeout := t.config.ShutdownTimeout
	if timeout == 0 {
		timeout = DefaultShutdownTimeout
	}

	done := make(chan error, 1)
	go func() { done <- t.process.Wait() }()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		t.logger.Warn("process did not exit in time, killing", "timeout", timeout)
		if t.process.Process != nil {
			t.process.Process.Kill()
		}
		return <-done
	}
}

// logStderr forwards the child's stderr to the logger.
func (t *CommandTransport) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			t.logger.Debug("peer stderr", "message", line)
		}
	}
}

// NewStdio returns a transport over this process's own stdin/stdout, used
// when serving MCP as a spawned child.
func NewStdio(logger *slog.Logger) *StreamTransport {
	return NewStreamTransport(os.Stdin, os.Stdout, logger)
}

// Pipe returns two connected in-process transports. Messages sent on one
// side arrive on the other in order. Used by tests and embedded sessions.
func Pipe() (*PipeTransport, *PipeTransport) {
	a := &PipeTransport{out: make(chan protocol.Message, 16), in: make(chan protocol.Message, 16), closed: make(chan struct{})}
	b := &PipeTransport{out: make(chan protocol.Message, 16), in: make(chan protocol.Message, 16), closed: make(chan struct{})}
	go pump(a, b)
	go pump(b, a)
	return a, b
}

// pump forwards one side's outbound queue into the peer's inbound channel.
// It is the sole writer of the peer channel, so closing it on shutdown is
// race-free.
func pump(from, to *PipeTransport) {
	defer close(to.in)
	for {
		select {
		case <-from.closed:
			return
		case msg, ok := <-from.out:
			if !ok {
				return
			}
			select {
			case to.in <- msg:
			case <-from.closed:
				return
			case <-to.closed:
				return
			}
		}
	}
}

// PipeTransport is one end of an in-process transport pair.
type PipeTransport struct {
	out    chan protocol.Message
	in     chan protocol.Message
	closed chan struct{}
	once   sync.Once
}

// Send delivers a message to the peer end.
func (p *PipeTransport) Send(ctx context.Context, msg protocol.Message) error {
	// Round-trip through the codec so pipe sessions exercise the same
	// encoding path as real transports.
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}
	decoded, err := protocol.DecodeMessage(data)
	if err != nil {
		return err
	}

	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	select {
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case p.out <- decoded:
		return nil
	}
}

// Receive returns the inbound stream.
func (p *PipeTransport) Receive() <-chan protocol.Message {
	return p.in
}

// Err always reports nil; pipe closure is a clean end of input.
func (p *PipeTransport) Err() error { return nil }

// Close closes this end; the peer observes end of input.
func (p *PipeTransport) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
