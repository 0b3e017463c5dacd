package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/core-tools/hsu-worker-launcher/pkg/errors"
	"github.com/core-tools/hsu-worker-launcher/pkg/logging"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Environment variables consumed by the launcher
const (
	EnvBrokerURL        = "CELERY_BROKER_URL"
	EnvResultBackendURL = "CELERY_RESULT_BACKEND"
	EnvDatabaseURL      = "MONGODB_URL"
	EnvMonitoring       = "CELERY_FLOWER"
)

const (
	DefaultBrokerURL        = "redis://localhost:6379/0"
	DefaultResultBackendURL = "redis://localhost:6379/1"
	DefaultDatabaseURL      = "mongodb://localhost:27017/lifeloop"

	// EnvFileName lives in the project root, two levels above the worker directory
	EnvFileName = ".env"
)

// Config is resolved once at startup and never changed afterwards
type Config struct {
	BrokerURL         string `mapstructure:"celery_broker_url"`
	ResultBackendURL  string `mapstructure:"celery_result_backend"`
	DatabaseURL       string `mapstructure:"mongodb_url"`
	MonitoringEnabled bool   `mapstructure:"-"`

	EnvFile       string `mapstructure:"-"`
	EnvFileLoaded bool   `mapstructure:"-"`

	// EnvFileValues holds the env file pairs not already set in the
	// environment, keys as written in the file
	EnvFileValues map[string]string `mapstructure:"-"`
}

type LoadOptions struct {
	// EnvFile is an optional dotenv file. Values already present in the
	// process environment win over values from the file.
	EnvFile string
}

// DefaultEnvFile returns <project root>/.env for a worker directory laid out
// as <project root>/backend/workers.
func DefaultEnvFile(workerDir string) string {
	return filepath.Join(workerDir, "..", "..", EnvFileName)
}

// Load resolves the launcher configuration from the environment and the
// optional env file. A missing env file is logged as a warning only.
func Load(opts LoadOptions, logger logging.Logger) (*Config, error) {
	v := viper.New()

	v.SetDefault("celery_broker_url", DefaultBrokerURL)
	v.SetDefault("celery_result_backend", DefaultResultBackendURL)
	v.SetDefault("mongodb_url", DefaultDatabaseURL)
	v.SetDefault("celery_flower", "false")

	v.AutomaticEnv()
	for key, env := range map[string]string{
		"celery_broker_url":     EnvBrokerURL,
		"celery_result_backend": EnvResultBackendURL,
		"mongodb_url":           EnvDatabaseURL,
		"celery_flower":         EnvMonitoring,
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, errors.NewInternalError("failed to bind environment variable", err).WithContext("env", env)
		}
	}

	cfg := &Config{EnvFile: opts.EnvFile}

	if opts.EnvFile != "" {
		loaded, err := readEnvFile(v, opts.EnvFile)
		switch {
		case err == nil && loaded:
			values, err := readEnvFileValues(opts.EnvFile)
			if err != nil {
				return nil, err
			}
			cfg.EnvFileLoaded = true
			cfg.EnvFileValues = values
			logger.Infof("Loaded environment from %s", opts.EnvFile)
		case err == nil:
			missing := errors.NewConfigMissingError("env file not found", nil).WithContext("env_file", opts.EnvFile)
			logger.Warnf("%s file not found at %s (%v)", EnvFileName, opts.EnvFile, missing)
			logger.Infof("Using default or system environment variables")
		default:
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.NewValidationError("failed to decode configuration", err)
	}
	cfg.MonitoringEnabled = isTruthy(v.GetString("celery_flower"))

	logger.Infof("Celery configuration:")
	logger.Infof("   Broker: %s", redactURL(cfg.BrokerURL))
	logger.Infof("   Backend: %s", redactURL(cfg.ResultBackendURL))
	logger.Infof("   MongoDB: %s", redactURL(cfg.DatabaseURL))

	return cfg, nil
}

func readEnvFile(v *viper.Viper, path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.NewIOError("env file not accessible", err).WithContext("env_file", path)
	}
	if info.IsDir() {
		return false, errors.NewValidationError("env file is a directory", nil).WithContext("env_file", path)
	}

	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return false, errors.NewValidationError("failed to parse env file", err).WithContext("env_file", path)
	}
	return true, nil
}

// readEnvFileValues returns the file's pairs that the environment does not
// already define; viper lower-cases keys, so the file is parsed again as written.
func readEnvFileValues(path string) (map[string]string, error) {
	env, err := gotenv.Read(path)
	if err != nil {
		return nil, errors.NewValidationError("failed to parse env file", err).WithContext("env_file", path)
	}

	values := make(map[string]string, len(env))
	for key, value := range env {
		if _, set := os.LookupEnv(key); set {
			continue
		}
		values[key] = value
	}
	return values, nil
}

// isTruthy matches only a case-insensitive "true"
func isTruthy(value string) bool {
	return strings.ToLower(strings.TrimSpace(value)) == "true"
}

// Environment returns the env file pairs and the resolved launcher values as
// KEY=value pairs for the worker, sorted by key within the file pairs.
func (c *Config) Environment() []string {
	launcherKeys := map[string]bool{
		EnvBrokerURL:        true,
		EnvResultBackendURL: true,
		EnvDatabaseURL:      true,
		EnvMonitoring:       true,
	}

	keys := make([]string, 0, len(c.EnvFileValues))
	for key := range c.EnvFileValues {
		if !launcherKeys[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys)+4)
	for _, key := range keys {
		env = append(env, key+"="+c.EnvFileValues[key])
	}
	env = append(env,
		EnvBrokerURL+"="+c.BrokerURL,
		EnvResultBackendURL+"="+c.ResultBackendURL,
		EnvDatabaseURL+"="+c.DatabaseURL,
	)
	if value, ok := c.EnvFileValues[EnvMonitoring]; ok {
		env = append(env, EnvMonitoring+"="+value)
	} else if c.MonitoringEnabled {
		env = append(env, EnvMonitoring+"=true")
	}
	return env
}
