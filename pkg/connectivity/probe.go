package connectivity

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Service names an external dependency of the worker
type Service string

const (
	ServiceBroker   Service = "broker"
	ServiceDatabase Service = "database"
)

// DatabaseServerSelectionTimeout bounds the MongoDB probe
const DatabaseServerSelectionTimeout = 5000 * time.Millisecond

// Result is the typed outcome of one probe
type Result struct {
	Service   Service
	Target    string // redacted URL
	OK        bool
	Message   string
	Latency   time.Duration
	CheckedAt time.Time
	Err       error

	// Hint is the remediation printed when the probe fails
	Hint string
}

// Probe checks reachability of a single external service.
// Check never panics on connection problems; failures come back in Result.
type Probe interface {
	Service() Service
	Check(ctx context.Context) Result
}

// NewBrokerProbe picks the probe matching the broker URL scheme.
// A zero timeout keeps the client library default.
func NewBrokerProbe(brokerURL string, timeout time.Duration) Probe {
	if strings.HasPrefix(brokerURL, "amqp://") || strings.HasPrefix(brokerURL, "amqps://") {
		return NewAMQPProbe(brokerURL, timeout)
	}
	return NewRedisProbe(brokerURL, timeout)
}

// NewDatabaseProbe probes MongoDB with the fixed server selection timeout
func NewDatabaseProbe(databaseURL string) Probe {
	return NewMongoProbe(databaseURL, DatabaseServerSelectionTimeout)
}

const (
	redisHint = "Make sure Redis is running: redis-cli ping"
	amqpHint  = "Make sure RabbitMQ is running: rabbitmq-diagnostics ping"
	mongoHint = "Make sure MongoDB is running: mongod"
)

func newResult(service Service, rawURL, hint string, started time.Time) Result {
	return Result{
		Service:   service,
		Target:    redactURL(rawURL),
		CheckedAt: started,
		Hint:      hint,
	}
}

func (r Result) succeed(started time.Time, format string, args ...interface{}) Result {
	r.OK = true
	r.Latency = time.Since(started)
	r.Message = fmt.Sprintf(format, args...)
	return r
}

func (r Result) fail(started time.Time, err error, format string, args ...interface{}) Result {
	r.OK = false
	r.Latency = time.Since(started)
	r.Err = err
	r.Message = fmt.Sprintf(format, args...)
	if err != nil {
		r.Message = fmt.Sprintf("%s: %v", r.Message, err)
	}
	return r
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable url>"
	}
	return u.Redacted()
}
