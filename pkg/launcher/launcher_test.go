package launcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/core-tools/hsu-worker-launcher/pkg/config"
	"github.com/core-tools/hsu-worker-launcher/pkg/connectivity"
	"github.com/core-tools/hsu-worker-launcher/pkg/errors"
	"github.com/core-tools/hsu-worker-launcher/pkg/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// RecordingLogger keeps formatted messages for assertions
type RecordingLogger struct {
	mutex    sync.Mutex
	messages []string
}

func (l *RecordingLogger) record(level, format string, args ...interface{}) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.messages = append(l.messages, level+" "+fmt.Sprintf(format, args...))
}

func (l *RecordingLogger) LogLevelf(level int, format string, args ...interface{}) {
	l.record(fmt.Sprint(level), format, args...)
}
func (l *RecordingLogger) Debugf(format string, args ...interface{}) { l.record("DEBUG", format, args...) }
func (l *RecordingLogger) Infof(format string, args ...interface{})  { l.record("INFO", format, args...) }
func (l *RecordingLogger) Warnf(format string, args ...interface{})  { l.record("WARN", format, args...) }
func (l *RecordingLogger) Errorf(format string, args ...interface{}) { l.record("ERROR", format, args...) }

func (l *RecordingLogger) Contains(substr string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for _, message := range l.messages {
		if strings.Contains(message, substr) {
			return true
		}
	}
	return false
}

// MockRunner implements process.Runner for testing
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, execution process.ExecutionConfig) process.Completion {
	args := m.Called(ctx, execution)
	return args.Get(0).(process.Completion)
}

// stubProbe returns a fixed result
type stubProbe struct {
	service connectivity.Service
	ok      bool
	calls   int
}

func (p *stubProbe) Service() connectivity.Service {
	return p.service
}

func (p *stubProbe) Check(ctx context.Context) connectivity.Result {
	p.calls++
	result := connectivity.Result{Service: p.service, OK: p.ok, Message: string(p.service) + " checked"}
	if !p.ok {
		result.Err = stderrors.New("connection refused")
	}
	return result
}

func defaultConfig() *config.Config {
	return &config.Config{
		BrokerURL:        config.DefaultBrokerURL,
		ResultBackendURL: config.DefaultResultBackendURL,
		DatabaseURL:      config.DefaultDatabaseURL,
	}
}

var expectedArgs = []string{
	"-A", "celery_config",
	"worker",
	"--loglevel=info",
	"--concurrency=4",
	"--max-tasks-per-child=1000",
	"--time-limit=1800",
	"--soft-time-limit=1500",
	"--prefetch-multiplier=1",
	"--without-gossip",
	"--without-mingle",
	"--without-heartbeat",
}

type fixture struct {
	broker   *stubProbe
	database *stubProbe
	runner   *MockRunner
	logger   *RecordingLogger
	launcher *Launcher
}

func newFixture(cfg *config.Config, options Options, brokerOK, databaseOK bool) *fixture {
	f := &fixture{
		broker:   &stubProbe{service: connectivity.ServiceBroker, ok: brokerOK},
		database: &stubProbe{service: connectivity.ServiceDatabase, ok: databaseOK},
		runner:   &MockRunner{},
		logger:   &RecordingLogger{},
	}
	if options.WorkerDir == "" {
		options.WorkerDir = "/srv/lifeloop/backend/workers"
	}
	f.launcher = NewLauncher(cfg, options, []connectivity.Probe{f.broker, f.database}, f.runner, f.logger)
	return f
}

func TestLauncher_ConnectivityFailureNeverSpawns(t *testing.T) {
	tests := []struct {
		name       string
		brokerOK   bool
		databaseOK bool
		failed     string
	}{
		{"broker_down", false, true, "broker"},
		{"database_down", true, false, "database"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(defaultConfig(), Options{}, tt.brokerOK, tt.databaseOK)

			outcome := f.launcher.Run(context.Background())

			assert.Equal(t, 1, outcome.ExitCode)
			assert.Equal(t, StateTerminated, outcome.State)
			assert.True(t, errors.IsConnectivityError(outcome.Err))
			f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)

			assert.Equal(t, 1, f.broker.calls)
			assert.Equal(t, 1, f.database.calls)

			service, ok := errors.ContextValue(outcome.Err, errors.ContextKeyService)
			require.True(t, ok)
			assert.Equal(t, tt.failed, service)
			assert.True(t, f.logger.Contains("Critical services unavailable"))
		})
	}
}

func TestLauncher_SpawnsWorkerWithFixedArgs(t *testing.T) {
	f := newFixture(defaultConfig(), Options{}, true, true)
	f.runner.On("Run", mock.Anything, mock.Anything).Return(process.Completion{Status: process.CompletionExited}).Once()

	outcome := f.launcher.Run(context.Background())

	assert.Equal(t, 0, outcome.ExitCode)
	assert.NoError(t, outcome.Err)
	f.runner.AssertExpectations(t)

	execution := f.runner.Calls[0].Arguments.Get(1).(process.ExecutionConfig)
	assert.Equal(t, "celery", execution.ExecutablePath)
	assert.Equal(t, expectedArgs, execution.Args)
	assert.Equal(t, "/srv/lifeloop/backend/workers", execution.WorkingDirectory)
	assert.Contains(t, execution.Environment, "CELERY_BROKER_URL="+config.DefaultBrokerURL)
	assert.True(t, f.logger.Contains("Command: celery -A celery_config worker"))
	assert.False(t, f.logger.Contains("Flower"))
}

func TestLauncher_MonitoringAddsLogfileFlag(t *testing.T) {
	cfg := defaultConfig()
	cfg.MonitoringEnabled = true
	f := newFixture(cfg, Options{}, true, true)
	f.runner.On("Run", mock.Anything, mock.Anything).Return(process.Completion{Status: process.CompletionExited}).Once()

	outcome := f.launcher.Run(context.Background())

	require.Equal(t, 0, outcome.ExitCode)
	execution := f.runner.Calls[0].Arguments.Get(1).(process.ExecutionConfig)
	assert.Equal(t, append(append([]string{}, expectedArgs...), "--logfile=-"), execution.Args)
	assert.True(t, f.logger.Contains("http://localhost:5555"))
}

func TestLauncher_ExitCodePropagation(t *testing.T) {
	tests := []struct {
		name       string
		completion process.Completion
		exitCode   int
		logged     string
	}{
		{
			name:       "worker_exit_7",
			completion: process.Completion{Status: process.CompletionExited, ExitCode: 7},
			exitCode:   7,
			logged:     "exit code 7",
		},
		{
			name:       "worker_killed",
			completion: process.Completion{Status: process.CompletionExited, ExitCode: 137, Signal: "killed"},
			exitCode:   137,
			logged:     "exit code 137",
		},
		{
			name: "interrupted",
			completion: process.Completion{
				Status: process.CompletionInterrupted,
				Err:    errors.NewCancelledError("process wait interrupted", context.Canceled),
			},
			exitCode: 0,
			logged:   "stopped by user",
		},
		{
			name: "executable_not_found",
			completion: process.Completion{
				Status:   process.CompletionNotFound,
				ExitCode: 1,
				Err:      errors.NewNotFoundError("executable not found on PATH: celery", nil),
			},
			exitCode: 1,
			logged:   "pip install celery redis pymongo",
		},
		{
			name: "start_failure",
			completion: process.Completion{
				Status:   process.CompletionFailed,
				ExitCode: 1,
				Err:      errors.NewProcessError("failed to start the process", stderrors.New("permission denied")),
			},
			exitCode: 1,
			logged:   "Unexpected error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(defaultConfig(), Options{}, true, true)
			f.runner.On("Run", mock.Anything, mock.Anything).Return(tt.completion).Once()

			outcome := f.launcher.Run(context.Background())

			assert.Equal(t, tt.exitCode, outcome.ExitCode)
			assert.True(t, f.logger.Contains(tt.logged), "expected log containing %q", tt.logged)
		})
	}
}

func TestLauncher_InvalidConfigSkipsProbes(t *testing.T) {
	cfg := defaultConfig()
	cfg.BrokerURL = "http://not-a-broker"
	f := newFixture(cfg, Options{}, true, true)

	outcome := f.launcher.Run(context.Background())

	assert.Equal(t, 1, outcome.ExitCode)
	assert.True(t, errors.IsValidationError(outcome.Err))
	assert.Equal(t, 0, f.broker.calls)
	assert.Equal(t, 0, f.database.calls)
	f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestLauncher_AcceptsAnyResultBackend(t *testing.T) {
	for _, backend := range []string{"rpc://", "db+postgresql://u:p@db/celery", "unix:///tmp/redis.sock"} {
		t.Run(backend, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.ResultBackendURL = backend
			f := newFixture(cfg, Options{}, true, true)
			f.runner.On("Run", mock.Anything, mock.Anything).Return(process.Completion{Status: process.CompletionExited}).Once()

			outcome := f.launcher.Run(context.Background())

			assert.Equal(t, 0, outcome.ExitCode)
			assert.Equal(t, 1, f.broker.calls)
			f.runner.AssertExpectations(t)
		})
	}
}

func TestLauncher_InterruptedDuringChecks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := newFixture(defaultConfig(), Options{}, false, false)

	outcome := f.launcher.Run(ctx)

	assert.Equal(t, 0, outcome.ExitCode)
	assert.True(t, errors.IsCancelledError(outcome.Err))
	f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestLauncher_CheckOnly(t *testing.T) {
	f := newFixture(defaultConfig(), Options{CheckOnly: true}, true, true)

	outcome := f.launcher.Run(context.Background())

	assert.Equal(t, 0, outcome.ExitCode)
	assert.True(t, outcome.Report.AllOK())
	f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestLauncher_DryRun(t *testing.T) {
	f := newFixture(defaultConfig(), Options{DryRun: true, Executable: "/opt/venv/bin/celery"}, true, true)

	outcome := f.launcher.Run(context.Background())

	assert.Equal(t, 0, outcome.ExitCode)
	assert.Equal(t, "/opt/venv/bin/celery", outcome.Execution.ExecutablePath)
	assert.Equal(t, expectedArgs, outcome.Execution.Args)
	f.runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestLauncher_StateHistory(t *testing.T) {
	f := newFixture(defaultConfig(), Options{}, true, true)
	f.runner.On("Run", mock.Anything, mock.Anything).Return(process.Completion{Status: process.CompletionExited}).Once()

	f.launcher.Run(context.Background())

	var states []State
	for _, transition := range f.launcher.State().History() {
		states = append(states, transition.To)
	}
	assert.Equal(t, []State{StateValidating, StateChecking, StateLaunching, StateRunning, StateTerminated}, states)
	assert.Equal(t, StateTerminated, f.launcher.State().Current())
}

func TestBuildWorkerArgs(t *testing.T) {
	assert.Equal(t, expectedArgs, BuildWorkerArgs(defaultConfig(), ""))
	assert.Equal(t, expectedArgs, BuildWorkerArgs(nil, DefaultApp))

	custom := BuildWorkerArgs(defaultConfig(), "tasks.app")
	assert.Equal(t, []string{"-A", "tasks.app", "worker"}, custom[:3])
}
