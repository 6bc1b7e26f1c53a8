package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"market-pulse/internal/metrics"
	"market-pulse/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

type Publisher struct {
	client         *redis.Client
	updatesChannel string
	alertsChannel  string
	logger         *logrus.Logger
}

func NewPublisher(client *redis.Client, updatesChannel, alertsChannel string, logger *logrus.Logger) *Publisher {
	return &Publisher{
		client:         client,
		updatesChannel: updatesChannel,
		alertsChannel:  alertsChannel,
		logger:         logger,
	}
}

// UpdatesChannel returns the channel carrying structure refresh events
func (p *Publisher) UpdatesChannel() string {
	return p.updatesChannel
}

// PublishUpdate announces that a timeframe's cached structure was refreshed
func (p *Publisher) PublishUpdate(ctx context.Context, event models.UpdateEvent) error {
	return p.publish(ctx, p.updatesChannel, "update", event)
}

// PublishAlert broadcasts a triggered alert
func (p *Publisher) PublishAlert(ctx context.Context, event models.AlertEvent) error {
	return p.publish(ctx, p.alertsChannel, "alert", event)
}

// SubscribeUpdates relays raw update payloads until ctx is done or the
// returned close function is called.
func (p *Publisher) SubscribeUpdates(ctx context.Context) (<-chan string, func() error) {
	sub := p.client.Subscribe(ctx, p.updatesChannel)
	out := make(chan string, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, sub.Close
}

func (p *Publisher) publish(ctx context.Context, channel, channelType string, v interface{}) error {
	start := time.Now()
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", channelType, err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		metrics.PublishFailures.WithLabelValues(channelType).Inc()
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	metrics.PublishSuccess.WithLabelValues(channelType).Inc()
	p.logger.WithFields(logrus.Fields{
		"channel":    channel,
		"latency_ms": time.Since(start).Milliseconds(),
	}).Debug("Published event")
	return nil
}
