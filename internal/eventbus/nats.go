package eventbus

import (
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Bus publishes story lifecycle events over NATS. Downstream consumers
// (email notifications, analytics) subscribe out of process.
type Bus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// Connect dials NATS and sets up a JetStream context for durable subjects.
// The URL comes from NATS_URL, defaulting to localhost for local dev.
func Connect(logger *zap.Logger) (*Bus, error) {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	nc, err := nats.Connect(natsURL,
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, err
	}

	bus := &Bus{nc: nc, logger: logger}

	js, err := nc.JetStream()
	if err != nil {
		// Core NATS still works; events just lose durability.
		logger.Warn("jetstream unavailable, using core NATS publish", zap.Error(err))
		return bus, nil
	}
	bus.js = js

	// Idempotent: AddStream only errors if an incompatible stream exists.
	if _, err := js.AddStream(&nats.StreamConfig{
		Name:     "STORIES",
		Subjects: []string{"story.*"},
	}); err != nil {
		logger.Warn("could not ensure STORIES stream", zap.Error(err))
	}

	return bus, nil
}

// Close drains the connection
func (b *Bus) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}

func (b *Bus) publish(subject string, payload []byte) error {
	if b.js != nil {
		_, err := b.js.Publish(subject, payload)
		return err
	}
	if b.nc == nil {
		return nats.ErrConnectionClosed
	}
	return b.nc.Publish(subject, payload)
}
