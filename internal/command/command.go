// Package command runs the external processes the sweep driver orchestrates.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Logger defines the interface for debug logging.
type Logger interface {
	Debugf(format string, args ...interface{})
}

// nopLogger is a no-op logger implementation.
type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...interface{}) {}

// CommandExecutor defines an interface for executing a prepared command.
// This abstraction enables unit testing without real process execution.
type CommandExecutor interface {
	// Run executes the command and returns the combined output (stdout+stderr).
	Run() ([]byte, error)

	// RunTo executes the command with stdout and stderr both written to w.
	RunTo(w io.Writer) error
}

// CommandBuilder defines an interface for building commands.
type CommandBuilder interface {
	// BuildCommand creates a CommandExecutor for name with args. The process
	// is killed if ctx is cancelled before it exits.
	BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor
}

// RealCommandExecutor wraps exec.Cmd to implement CommandExecutor.
type RealCommandExecutor struct {
	cmd *exec.Cmd
}

// Run executes the command and returns combined output.
func (r *RealCommandExecutor) Run() ([]byte, error) {
	return r.cmd.CombinedOutput()
}

// RunTo executes the command streaming both output streams into w.
func (r *RealCommandExecutor) RunTo(w io.Writer) error {
	r.cmd.Stdout = w
	r.cmd.Stderr = w
	return r.cmd.Run()
}

// RealCommandBuilder implements CommandBuilder using exec.CommandContext.
type RealCommandBuilder struct {
	// Dir is the working directory for built commands; empty means the current directory.
	Dir    string
	Logger Logger
}

// NewRealCommandBuilder creates a new RealCommandBuilder running commands in dir.
func NewRealCommandBuilder(dir string) *RealCommandBuilder {
	return &RealCommandBuilder{Dir: dir, Logger: nopLogger{}}
}

// SetLogger sets the debug logger for the builder.
func (b *RealCommandBuilder) SetLogger(logger Logger) {
	if logger != nil {
		b.Logger = logger
	}
}

// BuildCommand creates a CommandExecutor for the given command and arguments.
func (b *RealCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	if b.Logger != nil {
		b.Logger.Debugf("Executing: %s", FormatCommandLine(name, args))
	}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = b.Dir
	return &RealCommandExecutor{cmd: cmd}
}

// DryRunCommandBuilder reports each command instead of running it.
type DryRunCommandBuilder struct {
	// Out receives one "[DRY-RUN] ..." line per built command.
	Out io.Writer
}

// BuildCommand returns an executor that prints the command line and succeeds.
func (b *DryRunCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	return &dryRunExecutor{out: b.Out, line: FormatCommandLine(name, args)}
}

type dryRunExecutor struct {
	out  io.Writer
	line string
}

func (d *dryRunExecutor) message() string {
	return fmt.Sprintf("[DRY-RUN] Would execute: %s", d.line)
}

func (d *dryRunExecutor) Run() ([]byte, error) {
	if d.out != nil {
		fmt.Fprintln(d.out, d.message())
	}
	return []byte(d.message()), nil
}

func (d *dryRunExecutor) RunTo(w io.Writer) error {
	if d.out != nil {
		fmt.Fprintln(d.out, d.message())
	}
	_, err := fmt.Fprintln(w, d.message())
	return err
}

// ExitCode returns the exit status carried by err, 0 for a nil error and -1 when
// the process did not report one (failed to start, killed by a signal).
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	var mockErr *ExitError
	if errors.As(err, &mockErr) {
		return mockErr.Code
	}
	return -1
}

// ExitError is a synthetic non-zero exit used by MockCommandExecutor.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// FormatCommandLine renders name and args as a shell-like line for logs.
// Arguments containing whitespace or quotes are single-quoted.
func FormatCommandLine(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quoteArg(name))
	for _, a := range args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// MockCommandExecutor implements CommandExecutor for testing.
type MockCommandExecutor struct {
	// Output is the output to return from Run or write in RunTo.
	Output []byte
	// Err is the error to return.
	Err error
	// OnRun, when set, is invoked before returning and may simulate side effects.
	OnRun func() error
	// RunCalled indicates whether Run or RunTo was called.
	RunCalled bool
}

// Run returns the configured output and error.
func (m *MockCommandExecutor) Run() ([]byte, error) {
	m.RunCalled = true
	if m.OnRun != nil {
		if err := m.OnRun(); err != nil {
			return m.Output, err
		}
	}
	return m.Output, m.Err
}

// RunTo writes the configured output to w and returns the configured error.
func (m *MockCommandExecutor) RunTo(w io.Writer) error {
	out, err := m.Run()
	if len(out) > 0 {
		if _, werr := io.Copy(w, bytes.NewReader(out)); werr != nil {
			return werr
		}
	}
	return err
}

// MockBuiltCommand records details of a built command.
type MockBuiltCommand struct {
	Name string
	Args []string
}

// Line renders the recorded command as FormatCommandLine does.
func (c MockBuiltCommand) Line() string {
	return FormatCommandLine(c.Name, c.Args)
}

// MockCommandBuilder implements CommandBuilder for testing.
type MockCommandBuilder struct {
	mu sync.Mutex
	// Commands records all commands that were built.
	Commands []MockBuiltCommand
	// ExecutorFactory allows creating executors dynamically based on command.
	// If nil, every command succeeds with empty output.
	ExecutorFactory func(name string, args []string) *MockCommandExecutor
}

// NewMockCommandBuilder creates a new MockCommandBuilder.
func NewMockCommandBuilder() *MockCommandBuilder {
	return &MockCommandBuilder{}
}

// BuildCommand creates a MockCommandExecutor and records the command details.
func (b *MockCommandBuilder) BuildCommand(ctx context.Context, name string, args ...string) CommandExecutor {
	b.mu.Lock()
	b.Commands = append(b.Commands, MockBuiltCommand{Name: name, Args: append([]string(nil), args...)})
	factory := b.ExecutorFactory
	b.mu.Unlock()

	if factory != nil {
		return factory(name, args)
	}
	return &MockCommandExecutor{}
}

// Lines returns every recorded command rendered as a command line.
func (b *MockCommandBuilder) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.Commands))
	for i, c := range b.Commands {
		out[i] = c.Line()
	}
	return out
}

// LastCommand returns the most recently built command, or nil if none.
func (b *MockCommandBuilder) LastCommand() *MockBuiltCommand {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Commands) == 0 {
		return nil
	}
	c := b.Commands[len(b.Commands)-1]
	return &c
}

// Reset clears all recorded commands.
func (b *MockCommandBuilder) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Commands = nil
}
