package config

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/core-tools/hsu-worker-launcher/pkg/errors"
)

// Supported schemes, mapped to whether the URL must name a host.
// unix:// addresses a Redis socket by path.
var (
	brokerSchemes = map[string]bool{
		"redis":  true,
		"rediss": true,
		"unix":   false,
		"amqp":   true,
		"amqps":  true,
	}
	databaseSchemes = map[string]bool{
		"mongodb":     true,
		"mongodb+srv": true,
	}
)

// Validate checks that the broker and database URLs can be probed.
// The result backend is only handed to the worker, so any value is accepted.
func Validate(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	collection := errors.NewErrorCollection()
	collection.Add(validateURL(EnvBrokerURL, config.BrokerURL, brokerSchemes))
	collection.Add(validateURL(EnvDatabaseURL, config.DatabaseURL, databaseSchemes))

	if collection.HasErrors() {
		return errors.NewValidationError("invalid configuration", collection.ToError())
	}
	return nil
}

func validateURL(name, raw string, schemes map[string]bool) error {
	if raw == "" {
		return errors.NewValidationError(name+" cannot be empty", nil)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return errors.NewValidationError("invalid URL in "+name, err)
	}

	needsHost, ok := schemes[u.Scheme]
	if !ok {
		supported := make([]string, 0, len(schemes))
		for scheme := range schemes {
			supported = append(supported, scheme)
		}
		sort.Strings(supported)
		return errors.NewValidationError(
			fmt.Sprintf("unsupported scheme %q in %s", u.Scheme, name),
			nil,
		).WithContext("supported_schemes", supported)
	}

	if needsHost && u.Host == "" {
		return errors.NewValidationError(name+" has no host: "+redactURL(raw), nil)
	}
	if !needsHost && u.Path == "" {
		return errors.NewValidationError(name+" has no socket path: "+redactURL(raw), nil)
	}
	return nil
}

// redactURL hides passwords before URLs reach the logs
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
