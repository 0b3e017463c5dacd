package process

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/core-tools/hsu-worker-launcher/pkg/errors"
	"github.com/core-tools/hsu-worker-launcher/pkg/logging"
)

type ExecutionConfig struct {
	ExecutablePath   string        `yaml:"executable_path"`
	Args             []string      `yaml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`
}

// CommandLine renders the executable and its arguments for logging
func (e ExecutionConfig) CommandLine() string {
	return strings.Join(append([]string{e.ExecutablePath}, e.Args...), " ")
}

type CompletionStatus string

const (
	// CompletionExited means the process ran and exited on its own
	CompletionExited CompletionStatus = "exited"

	// CompletionInterrupted means ctx was cancelled while waiting
	CompletionInterrupted CompletionStatus = "interrupted"

	// CompletionNotFound means the executable could not be located
	CompletionNotFound CompletionStatus = "not_found"

	// CompletionFailed covers invalid configuration and start or wait failures
	CompletionFailed CompletionStatus = "failed"
)

// Completion is the outcome of a spawn-and-await
type Completion struct {
	Status   CompletionStatus
	ExitCode int
	Signal   string
	PID      int
	Err      error
}

func (c Completion) Success() bool {
	return c.Status == CompletionExited && c.ExitCode == 0
}

// Runner spawns a process and blocks until it is gone
type Runner interface {
	Run(ctx context.Context, execution ExecutionConfig) Completion
}

type StdRunnerOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Force, when closed, kills the process group outright. Used to escalate
	// a second interrupt while the worker is still shutting down.
	Force <-chan struct{}
}

type stdRunner struct {
	options StdRunnerOptions
	logger  logging.Logger
}

// NewStdRunner returns a Runner wired to the given stdio, the launcher's own by default.
// Cancelling ctx forwards a termination signal to the child's process group and the
// run is reported as interrupted once the child is gone or WaitDelay expires.
func NewStdRunner(options StdRunnerOptions, logger logging.Logger) Runner {
	if options.Stdout == nil {
		options.Stdout = os.Stdout
	}
	if options.Stderr == nil {
		options.Stderr = os.Stderr
	}
	return &stdRunner{options: options, logger: logger}
}

func (r *stdRunner) Run(ctx context.Context, execution ExecutionConfig) Completion {
	if ctx == nil {
		return Completion{Status: CompletionFailed, ExitCode: 1, Err: errors.NewValidationError("context cannot be nil", nil)}
	}

	if err := ValidateExecutionConfig(execution); err != nil {
		r.logger.Errorf("Execution configuration validation failed: %v", err)
		return Completion{Status: CompletionFailed, ExitCode: 1, Err: err}
	}

	executablePath, err := ResolveExecutable(execution.ExecutablePath)
	if err != nil {
		return Completion{Status: CompletionNotFound, ExitCode: 1, Err: err}
	}

	env := os.Environ()
	env = append(env, execution.Environment...)

	cmd := exec.CommandContext(ctx, executablePath, execution.Args...)
	cmd.Dir = execution.WorkingDirectory
	cmd.Env = env
	cmd.Stdin = r.options.Stdin
	cmd.Stdout = r.options.Stdout
	cmd.Stderr = r.options.Stderr

	setupProcessAttributes(cmd)

	cmd.Cancel = func() error {
		r.logger.Infof("Forwarding termination to process group, PID: %d", cmd.Process.Pid)
		if r.options.Force != nil {
			r.logger.Infof("Waiting for the worker to shut down, interrupt again to kill it")
		}
		return sendTerminationSignal(cmd.Process)
	}
	// wait after forwarding the signal, before killing
	cmd.WaitDelay = execution.WaitDelay

	r.logger.Debugf("Executing process: path: '%s', args: %v, working directory: '%s'",
		executablePath, execution.Args, cmd.Dir)

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return Completion{
				Status: CompletionInterrupted,
				Err:    errors.NewCancelledError("interrupted before the process started", ctx.Err()),
			}
		}
		if isNotFound(err) {
			return Completion{
				Status:   CompletionNotFound,
				ExitCode: 1,
				Err:      errors.NewNotFoundError("executable not found", err).WithContext("executable_path", executablePath),
			}
		}
		return Completion{
			Status:   CompletionFailed,
			ExitCode: 1,
			Err:      errors.NewProcessError("failed to start the process", err).WithContext("executable_path", executablePath),
		}
	}

	pid := cmd.Process.Pid
	r.logger.Infof("Started process, PID: %d", pid)

	done := make(chan struct{})
	if r.options.Force != nil {
		go r.killOnForce(cmd.Process, done)
	}

	waitErr := cmd.Wait()
	close(done)
	completion := completionFromState(cmd.ProcessState)
	completion.PID = pid

	if ctx.Err() != nil {
		completion.Status = CompletionInterrupted
		completion.Err = errors.NewCancelledError("process wait interrupted", ctx.Err()).WithContext("pid", pid)
		return completion
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !stderrors.As(waitErr, &exitErr) {
			completion.Status = CompletionFailed
			if completion.ExitCode == 0 {
				completion.ExitCode = 1
			}
			completion.Err = errors.NewProcessError("failed waiting for the process", waitErr).WithContext("pid", pid)
			return completion
		}
	}

	if completion.ExitCode != 0 {
		completion.Err = errors.NewProcessError("process exited with non-zero code", waitErr).
			WithContext(errors.ContextKeyExitCode, completion.ExitCode).
			WithContext("pid", pid)
	}
	return completion
}

func (r *stdRunner) killOnForce(process *os.Process, done <-chan struct{}) {
	select {
	case <-r.options.Force:
	case <-done:
		return
	}

	select {
	case <-done:
		return
	default:
	}

	r.logger.Warnf("Killing process group, PID: %d", process.Pid)
	if err := killProcessGroup(process); err != nil {
		r.logger.Warnf("Failed to kill process group, PID: %d: %v", process.Pid, err)
	}
}

// completionFromState maps a finished process to an exit code,
// using 128+signal for signal deaths like a POSIX shell does.
func completionFromState(state *os.ProcessState) Completion {
	completion := Completion{Status: CompletionExited}
	if state == nil {
		completion.ExitCode = 1
		return completion
	}

	if sig, signum, ok := terminatingSignal(state); ok {
		completion.Signal = sig
		completion.ExitCode = 128 + signum
		return completion
	}

	completion.ExitCode = state.ExitCode()
	if completion.ExitCode < 0 {
		completion.ExitCode = 1
	}
	return completion
}

// ResolveExecutable looks the executable up on PATH unless it is already a path
func ResolveExecutable(name string) (string, error) {
	if name == "" {
		return "", errors.NewValidationError("executable path is required", nil)
	}

	if strings.ContainsRune(name, filepath.Separator) || strings.ContainsRune(name, '/') {
		info, err := os.Stat(name)
		if err != nil {
			return "", errors.NewNotFoundError("executable not found: "+name, err).WithContext("executable_path", name)
		}
		if info.IsDir() {
			return "", errors.NewNotFoundError("executable path is a directory: "+name, nil).WithContext("executable_path", name)
		}
		return name, nil
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", errors.NewNotFoundError("executable not found on PATH: "+name, err).WithContext("executable_path", name)
	}
	return path, nil
}

func isNotFound(err error) bool {
	return stderrors.Is(err, exec.ErrNotFound) || stderrors.Is(err, fs.ErrNotExist)
}
