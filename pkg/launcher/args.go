package launcher

import (
	"fmt"

	"github.com/core-tools/hsu-worker-launcher/pkg/config"
)

const (
	DefaultExecutable = "celery"
	DefaultApp        = "celery_config"

	WorkerConcurrency        = 4
	WorkerMaxTasksPerChild   = 1000
	WorkerTimeLimitSec       = 1800 // 30 minutes
	WorkerSoftTimeLimitSec   = 1500 // 25 minutes
	WorkerPrefetchMultiplier = 1

	MonitoringURL = "http://localhost:5555"

	InstallHint = "pip install celery redis pymongo beautifulsoup4 requests"
)

// BuildWorkerArgs returns the worker's argument list in a fixed order.
// Gossip, mingle and heartbeat stay disabled: each worker runs alone on its node.
func BuildWorkerArgs(cfg *config.Config, app string) []string {
	if app == "" {
		app = DefaultApp
	}

	args := []string{
		"-A", app,
		"worker",
		"--loglevel=info",
		fmt.Sprintf("--concurrency=%d", WorkerConcurrency),
		fmt.Sprintf("--max-tasks-per-child=%d", WorkerMaxTasksPerChild),
		fmt.Sprintf("--time-limit=%d", WorkerTimeLimitSec),
		fmt.Sprintf("--soft-time-limit=%d", WorkerSoftTimeLimitSec),
		fmt.Sprintf("--prefetch-multiplier=%d", WorkerPrefetchMultiplier),
		"--without-gossip",
		"--without-mingle",
		"--without-heartbeat",
	}

	if cfg != nil && cfg.MonitoringEnabled {
		args = append(args, "--logfile=-")
	}

	return args
}
