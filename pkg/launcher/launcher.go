package launcher

import (
	"context"
	"time"

	"github.com/core-tools/hsu-worker-launcher/pkg/config"
	"github.com/core-tools/hsu-worker-launcher/pkg/connectivity"
	"github.com/core-tools/hsu-worker-launcher/pkg/errors"
	"github.com/core-tools/hsu-worker-launcher/pkg/logging"
	"github.com/core-tools/hsu-worker-launcher/pkg/process"
)

type Options struct {
	RunID string

	// WorkerDir is the worker's working directory, so its relative imports resolve
	WorkerDir  string
	Executable string
	App        string

	// ShutdownTimeout bounds the wait after an interrupt was forwarded; zero waits for the worker
	ShutdownTimeout time.Duration

	// CheckOnly stops after the connectivity checks
	CheckOnly bool
	// DryRun prints the worker command instead of running it
	DryRun bool
}

// Outcome is the terminal result of Run
type Outcome struct {
	State     State
	ExitCode  int
	Err       error
	Execution process.ExecutionConfig
	Report    connectivity.Report
}

type Launcher struct {
	config  *config.Config
	options Options
	probes  []connectivity.Probe
	checker *connectivity.Checker
	runner  process.Runner
	state   *StateMachine
	logger  logging.Logger
}

// DefaultProbes returns the broker and database probes for cfg
func DefaultProbes(cfg *config.Config) []connectivity.Probe {
	return []connectivity.Probe{
		connectivity.NewBrokerProbe(cfg.BrokerURL, 0),
		connectivity.NewDatabaseProbe(cfg.DatabaseURL),
	}
}

func NewLauncher(cfg *config.Config, options Options, probes []connectivity.Probe, runner process.Runner, logger logging.Logger) *Launcher {
	if options.Executable == "" {
		options.Executable = DefaultExecutable
	}
	if options.App == "" {
		options.App = DefaultApp
	}
	return &Launcher{
		config:  cfg,
		options: options,
		probes:  probes,
		checker: connectivity.NewChecker(logger),
		runner:  runner,
		state:   NewStateMachine(options.RunID, logger),
		logger:  logger,
	}
}

func (l *Launcher) State() *StateMachine {
	return l.state
}

// Execution returns the worker invocation for the launcher's configuration
func (l *Launcher) Execution() process.ExecutionConfig {
	return process.ExecutionConfig{
		ExecutablePath:   l.options.Executable,
		Args:             BuildWorkerArgs(l.config, l.options.App),
		Environment:      l.config.Environment(),
		WorkingDirectory: l.options.WorkerDir,
		WaitDelay:        l.options.ShutdownTimeout,
	}
}

// Run validates, checks both services, then spawns the worker and waits for it.
// Nothing is spawned unless every probe succeeded.
func (l *Launcher) Run(ctx context.Context) Outcome {
	outcome := Outcome{}

	l.logger.Infof("Starting Celery worker launcher...")

	l.advance(StateValidating)
	if err := config.Validate(l.config); err != nil {
		return l.terminate(outcome, errors.NewValidationError("configuration is invalid", err))
	}

	l.advance(StateChecking)
	l.logger.Infof("Checking external service connections...")
	outcome.Report = l.checker.Check(ctx, l.probes...)

	if ctx.Err() != nil {
		return l.terminate(outcome, errors.NewCancelledError("interrupted during connectivity checks", ctx.Err()))
	}
	if !outcome.Report.AllOK() {
		return l.terminate(outcome, outcome.Report.Err())
	}

	if l.options.CheckOnly {
		l.logger.Infof("All services available")
		return l.terminate(outcome, nil)
	}

	l.advance(StateLaunching)
	l.logger.Infof("All services available. Starting Celery worker...")

	outcome.Execution = l.Execution()
	if l.config.MonitoringEnabled {
		l.logger.Infof("Flower monitoring UI will be available at %s", MonitoringURL)
	}
	l.logger.Infof("Working directory: %s", outcome.Execution.WorkingDirectory)
	l.logger.Infof("Command: %s", outcome.Execution.CommandLine())

	if l.options.DryRun {
		l.logger.Infof("Dry run, not starting the worker")
		return l.terminate(outcome, nil)
	}

	l.advance(StateRunning)
	completion := l.runner.Run(ctx, outcome.Execution)

	return l.terminate(outcome, completionError(completion, l.options.Executable))
}

func (l *Launcher) advance(to State) {
	if err := l.state.Transition(to, nil); err != nil {
		l.logger.Errorf("Launch state error: %v", err)
	}
}

// terminate logs the diagnostic for err and fixes the exit code
func (l *Launcher) terminate(outcome Outcome, err error) Outcome {
	if transitionErr := l.state.Transition(StateTerminated, err); transitionErr != nil {
		l.logger.Errorf("Launch state error: %v", transitionErr)
	}

	outcome.State = StateTerminated
	outcome.Err = err
	outcome.ExitCode = ExitCode(err)

	switch {
	case err == nil:
	case errors.IsCancelledError(err):
		l.logger.Infof("Celery worker stopped by user")
	case errors.IsConnectivityError(err):
		l.logger.Errorf("Critical services unavailable. Please start Redis and MongoDB.")
	case errors.IsNotFoundError(err):
		l.logger.Errorf("%s not found. Install it with: %s", l.options.Executable, InstallHint)
	case errors.IsInternalError(err):
		l.logger.Errorf("Unexpected error: %v", err)
	case errors.IsProcessError(err):
		l.logger.Errorf("Celery worker failed with exit code %d", outcome.ExitCode)
	case errors.IsValidationError(err):
		l.logger.Errorf("Invalid configuration: %v", err)
	default:
		l.logger.Errorf("Unexpected error: %v", err)
	}

	return outcome
}
