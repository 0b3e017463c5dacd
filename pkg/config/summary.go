package config

import (
	"gopkg.in/yaml.v3"
)

// Summary is the printable view of a Config, with credentials redacted
type Summary struct {
	BrokerURL         string `yaml:"broker_url"`
	ResultBackendURL  string `yaml:"result_backend_url"`
	DatabaseURL       string `yaml:"database_url"`
	MonitoringEnabled bool   `yaml:"monitoring_enabled"`
	EnvFile           string `yaml:"env_file,omitempty"`
	EnvFileLoaded     bool   `yaml:"env_file_loaded"`
}

func (c *Config) Summary() Summary {
	return Summary{
		BrokerURL:         redactURL(c.BrokerURL),
		ResultBackendURL:  redactURL(c.ResultBackendURL),
		DatabaseURL:       redactURL(c.DatabaseURL),
		MonitoringEnabled: c.MonitoringEnabled,
		EnvFile:           c.EnvFile,
		EnvFileLoaded:     c.EnvFileLoaded,
	}
}

func (s Summary) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}
