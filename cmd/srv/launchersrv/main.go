package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-worker-launcher/pkg/config"
	"github.com/core-tools/hsu-worker-launcher/pkg/launcher"
	"github.com/core-tools/hsu-worker-launcher/pkg/logging"
	"github.com/core-tools/hsu-worker-launcher/pkg/process"

	"github.com/google/uuid"
	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	EnvFile         string        `long:"env-file" description:"dotenv file to load (default: <worker-dir>/../../.env)"`
	WorkerDir       string        `long:"worker-dir" description:"worker working directory (default: directory of this executable)"`
	Executable      string        `long:"executable" default:"celery" description:"celery executable name or path"`
	App             string        `long:"app" default:"celery_config" description:"celery application module"`
	LogLevel        string        `long:"log-level" default:"info" description:"launcher log level (debug, info, warn, error)"`
	LogFormat       string        `long:"log-format" default:"console" description:"launcher log format (console, json)"`
	ShutdownTimeout time.Duration `long:"shutdown-timeout" default:"0s" description:"how long to wait for the worker after an interrupt, 0 waits forever"`
	CheckOnly       bool          `long:"check-only" description:"only check broker and database connectivity"`
	DryRun          bool          `long:"dry-run" description:"print the worker command without running it"`
	PrintConfig     bool          `long:"print-config" description:"print the resolved configuration and exit"`
}

func logPrefix(runID string) string {
	return fmt.Sprintf("module: worker-launcher, run: %s , ", runID)
}

func main() {
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	ctx, force, stop := watchInterrupts(context.Background(), signals, func() { signal.Stop(signals) })
	code := run(ctx, force, os.Args[1:], os.Stdout)
	stop()
	signal.Stop(signals)
	os.Exit(code)
}

// watchInterrupts cancels the returned context on the first signal and closes
// force on the second, then calls release so further signals get the default
// behavior.
func watchInterrupts(parent context.Context, signals <-chan os.Signal, release func()) (context.Context, <-chan struct{}, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	force := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		select {
		case <-signals:
			cancel()
		case <-stopped:
			return
		}

		select {
		case <-signals:
			close(force)
			release()
		case <-stopped:
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() { close(stopped) })
		cancel()
	}
	return ctx, force, stop
}

func run(ctx context.Context, force <-chan struct{}, argv []string, stdout io.Writer) int {
	var opts flagOptions
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(stdout, err)
			return launcher.ExitCodeSuccess
		}
		fmt.Fprintf(stdout, "Command line flags parsing failed: %v\n", err)
		return launcher.ExitCodeFailure
	}

	runID := uuid.NewString()
	zapLogger, err := logging.NewZapLogger(logging.ZapConfig{
		Level:  opts.LogLevel,
		Format: opts.LogFormat,
		Output: stdout,
	}, logPrefix(runID))
	if err != nil {
		fmt.Fprintf(stdout, "Failed to create logger: %v\n", err)
		return launcher.ExitCodeFailure
	}
	defer zapLogger.Sync()

	logger := zapLogger.Logger
	logger.Debugf("opts: %+v", opts)

	workerDir := opts.WorkerDir
	if workerDir == "" {
		workerDir, err = executableDir()
		if err != nil {
			logger.Errorf("Failed to resolve the worker directory: %v", err)
			return launcher.ExitCodeFailure
		}
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = config.DefaultEnvFile(workerDir)
	}

	cfg, err := config.Load(config.LoadOptions{EnvFile: envFile}, logger)
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		return launcher.ExitCode(err)
	}

	if opts.PrintConfig {
		out, err := cfg.Summary().YAML()
		if err != nil {
			logger.Errorf("Failed to render configuration: %v", err)
			return launcher.ExitCodeFailure
		}
		fmt.Fprint(stdout, string(out))
		return launcher.ExitCodeSuccess
	}

	l := launcher.NewLauncher(cfg, launcher.Options{
		RunID:           runID,
		WorkerDir:       workerDir,
		Executable:      opts.Executable,
		App:             opts.App,
		ShutdownTimeout: opts.ShutdownTimeout,
		CheckOnly:       opts.CheckOnly,
		DryRun:          opts.DryRun,
	}, launcher.DefaultProbes(cfg), process.NewStdRunner(process.StdRunnerOptions{Stdin: os.Stdin, Force: force}, logger), logger)

	outcome := l.Run(ctx)
	return outcome.ExitCode
}

// executableDir is the directory holding the launcher binary, symlinks resolved
func executableDir() (string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", err
	}
	path, err = filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Dir(path), nil
}
