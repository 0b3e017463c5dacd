package connectivity

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

type redisProbe struct {
	url     string
	timeout time.Duration
}

// NewRedisProbe sends PING to the Redis instance addressed by a redis://, rediss:// or unix:// URL
func NewRedisProbe(redisURL string, timeout time.Duration) Probe {
	return &redisProbe{url: redisURL, timeout: timeout}
}

func (p *redisProbe) Service() Service {
	return ServiceBroker
}

func (p *redisProbe) Check(ctx context.Context) Result {
	started := time.Now()
	result := newResult(ServiceBroker, p.url, redisHint, started)

	opts, err := redis.ParseURL(p.url)
	if err != nil {
		return result.fail(started, err, "invalid Redis URL")
	}
	if p.timeout > 0 {
		opts.DialTimeout = p.timeout
		opts.ReadTimeout = p.timeout
		opts.WriteTimeout = p.timeout
	}
	opts.MaxRetries = -1

	client := redis.NewClient(opts)
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return result.fail(started, err, "Redis connection failed")
	}
	return result.succeed(started, "Redis broker is accessible at %s", opts.Addr)
}
