package connectivity

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoProbe struct {
	url     string
	timeout time.Duration
}

// NewMongoProbe runs the admin ping command, bounded by the server selection timeout
func NewMongoProbe(mongoURL string, serverSelectionTimeout time.Duration) Probe {
	return &mongoProbe{url: mongoURL, timeout: serverSelectionTimeout}
}

func (p *mongoProbe) Service() Service {
	return ServiceDatabase
}

func (p *mongoProbe) Check(ctx context.Context) Result {
	started := time.Now()
	result := newResult(ServiceDatabase, p.url, mongoHint, started)

	clientOptions := options.Client().ApplyURI(p.url)
	if p.timeout > 0 {
		clientOptions.SetServerSelectionTimeout(p.timeout)
		clientOptions.SetConnectTimeout(p.timeout)
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return result.fail(started, err, "MongoDB connection failed")
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}()

	err = client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
	if err != nil {
		return result.fail(started, err, "MongoDB connection failed")
	}
	return result.succeed(started, "MongoDB is accessible at %s", result.Target)
}
