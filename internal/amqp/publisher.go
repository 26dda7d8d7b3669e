package amqpclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
)

// Publisher sends outbox events to a topic exchange. The routing key is the
// lower-cased event type, e.g. appointment.status_changed.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewPublisher(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &Publisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
	}, nil
}

func (p *Publisher) Publish(ctx context.Context, ev appointment.EventLog) error {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    strconv.FormatInt(ev.ID, 10),
		Type:         ev.EventType,
		Timestamp:    ev.CreatedAt,
		Body:         ev.Payload,
	}
	if ev.AppointmentID != nil {
		msg.Headers = amqp.Table{"appointment_id": ev.AppointmentID.String()}
	}

	if err := p.channel.PublishWithContext(ctx, p.exchange, RoutingKey(ev.EventType), false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.EventType, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil || p.channel == nil {
		return nil
	}

	if err := p.channel.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}

// RoutingKey turns APPOINTMENT_STATUS_CHANGED into appointment.status_changed.
func RoutingKey(eventType string) string {
	key := strings.ToLower(eventType)
	if i := strings.IndexByte(key, '_'); i >= 0 {
		key = key[:i] + "." + key[i+1:]
	}
	return key
}
