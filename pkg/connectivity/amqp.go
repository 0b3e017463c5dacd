package connectivity

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultAMQPDialTimeout = 30 * time.Second

type amqpProbe struct {
	url     string
	timeout time.Duration
}

// NewAMQPProbe opens and closes a connection and a channel on an AMQP broker
func NewAMQPProbe(amqpURL string, timeout time.Duration) Probe {
	return &amqpProbe{url: amqpURL, timeout: timeout}
}

func (p *amqpProbe) Service() Service {
	return ServiceBroker
}

func (p *amqpProbe) Check(ctx context.Context) Result {
	started := time.Now()
	result := newResult(ServiceBroker, p.url, amqpHint, started)

	timeout := p.timeout
	if timeout <= 0 {
		timeout = defaultAMQPDialTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return result.fail(started, err, "AMQP connection failed")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return result.fail(started, err, "AMQP channel open failed")
	}
	_ = ch.Close()

	return result.succeed(started, "AMQP broker is accessible at %s", result.Target)
}
