package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
	"github.com/streadway/amqp"
)

const defaultMaxRetries = 5

// AMQPDeliverer publishes events to a topic exchange, routed by event type
type AMQPDeliverer struct {
	url      string
	exchange string

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPDeliverer connects to the broker and declares the exchange
func NewAMQPDeliverer(url, exchange string) (*AMQPDeliverer, error) {
	d := &AMQPDeliverer{url: url, exchange: exchange}
	if err := d.connect(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *AMQPDeliverer) Name() string { return "amqp" }

// connect dials the broker with retries. The caller holds d.mu or owns d exclusively.
func (d *AMQPDeliverer) connect() error {
	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= defaultMaxRetries; attempt++ {
		conn, err = amqp.Dial(d.url)
		if err == nil {
			break
		}
		debug.Warning("AMQP connection attempt %d/%d failed: %v", attempt, defaultMaxRetries, err)
		if attempt < defaultMaxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	if err := ch.ExchangeDeclare(d.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", d.exchange, err)
	}

	d.conn = conn
	d.channel = ch
	debug.Info("Connected to AMQP broker, publishing to exchange %s", d.exchange)
	return nil
}

// Deliver publishes the event, reconnecting once if the connection was lost
func (d *AMQPDeliverer) Deliver(ctx context.Context, event models.Event) error {
	msg, err := buildPublishing(event)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil || d.conn.IsClosed() {
		debug.Warning("AMQP connection lost, reconnecting")
		if err := d.connect(); err != nil {
			return err
		}
	}

	if err := d.channel.Publish(d.exchange, RoutingKey(event), false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}
	return nil
}

// Close shuts the channel and connection
func (d *AMQPDeliverer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channel != nil {
		d.channel.Close()
	}
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// RoutingKey is "campaign.<type>", so consumers can bind on "campaign.#"
func RoutingKey(event models.Event) string {
	return "campaign." + string(event.Type)
}

func buildPublishing(event models.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Body:         body,
	}, nil
}
