// Package queue_publisher publishes reception events to RabbitMQ.  Publish
// never blocks the request that produced the event: events are buffered and
// a background loop delivers them, redialling the broker as needed.
// Delivery failures are logged and the event is dropped.
package queue_publisher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	q "github.com/iliyamo/escape-reception/internal/queue"
)

// ErrBufferFull is returned by Publish when the delivery loop is behind.
var ErrBufferFull = errors.New("event buffer full")

// SendFunc delivers one encoded event.
type SendFunc func(ctx context.Context, body []byte) error

// Publisher buffers events and sends them from Run.
type Publisher struct {
	send   SendFunc
	events chan q.ReceptionEvent
	log    *slog.Logger
}

// New returns a Publisher delivering through send with room for buffer
// pending events.
func New(send SendFunc, buffer int, log *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{send: send, events: make(chan q.ReceptionEvent, buffer), log: log}
}

// NewRabbit returns a Publisher writing to the durable events queue on the
// broker at url.
func NewRabbit(url string, buffer int, log *slog.Logger) (*Publisher, *RabbitSender) {
	rs := &RabbitSender{url: url}
	return New(rs.Send, buffer, log), rs
}

// Publish queues ev for delivery.
func (p *Publisher) Publish(_ context.Context, ev q.ReceptionEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	select {
	case p.events <- ev:
		return nil
	default:
		return ErrBufferFull
	}
}

// Run delivers buffered events until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.events:
			body, err := json.Marshal(ev)
			if err != nil {
				p.log.Error("rabbitmq: marshal event failed", slog.Any("err", err))
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = p.send(sendCtx, body)
			cancel()
			if err != nil {
				p.log.Warn("rabbitmq: publish failed",
					slog.String("type", ev.Type),
					slog.Uint64("reservation_id", ev.ReservationID),
					slog.Any("err", err))
			}
		}
	}
}

// RabbitSender holds one broker connection and reopens it after failures.
type RabbitSender struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func (r *RabbitSender) channel() (*amqp.Channel, error) {
	if r.ch != nil && !r.ch.IsClosed() {
		return r.ch, nil
	}
	r.closeLocked()
	conn, err := amqp.DialConfig(r.url, amqp.Config{Dial: amqp.DefaultDial(3 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	// Ensure the queue exists (idempotent). Durable so messages survive broker restarts.
	if err := q.DeclareEventsQueue(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	r.conn, r.ch = conn, ch
	return ch, nil
}

// Send publishes body as a persistent message on the events queue.
func (r *RabbitSender) Send(ctx context.Context, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, err := r.channel()
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",            // default exchange
		q.EventsQueue, // routing key = queue name
		false,         // mandatory
		false,         // immediate
		pub,
	); err != nil {
		r.closeLocked()
		return err
	}
	return nil
}

// Close releases the broker connection.
func (r *RabbitSender) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
}

func (r *RabbitSender) closeLocked() {
	if r.ch != nil {
		_ = r.ch.Close()
		r.ch = nil
	}
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}
