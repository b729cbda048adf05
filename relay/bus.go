package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/google/uuid"
)

// Config is the subset of [amqp] config relay needs (url, exchange, queue
// per spec.md §6).
type Config struct {
	URL      string
	Exchange string
	Queue    string
}

// Handler is invoked for every inbound event that passes idempotence and
// loop-prevention checks. It must not block for long: it runs on the
// consumer goroutine.
type Handler func(env *Envelope)

// Bus is the inter-server relay: it publishes locally-originated events to a
// fan-out exchange and delivers de-duplicated inbound events to Handler.
// Outgoing publishes go through a buffered channel drained by one goroutine,
// the same "never block the caller on I/O" shape as the teacher's conn.go
// outgoing channel.
type Bus struct {
	cfg    Config
	origin string // this server's origin UUID

	logger func(format string, args ...interface{})

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	closed  bool

	seq     uint64
	outgoing chan *Envelope
	handler  Handler
	dedup    *dedup

	onReconnect func() // invoked after a successful (re)connect, to request a burst
}

const outgoingBufferSize = 256

// New creates a Bus with a fresh origin UUID. Connect must be called before
// Publish has any effect.
func New(cfg Config, handler Handler, logger func(string, ...interface{})) *Bus {
	if logger == nil {
		logger = func(string, ...interface{}) {}
	}
	return &Bus{
		cfg:      cfg,
		origin:   uuid.NewString(),
		logger:   logger,
		outgoing: make(chan *Envelope, outgoingBufferSize),
		handler:  handler,
		dedup:    newDedup(),
	}
}

// Origin returns this server's origin UUID, used to tag locally-published
// events and to recognize (and drop) events that are echoes of our own.
func (b *Bus) Origin() string {
	return b.origin
}

// OnReconnect registers a callback fired after every successful connect,
// including the first one and any reconnect following a bus outage. The
// server uses this to request a BURST from peers (§4.G "Partial network
// failure").
func (b *Bus) OnReconnect(fn func()) {
	b.onReconnect = fn
}

// Connect dials the AMQP broker and starts the publish/consume loops. It
// blocks, retrying with exponential backoff, until ctx is canceled or a
// connection is established. ctx bounds only this initial dial: once
// connected, the publish loop and the reconnect monitor run until Close.
func (b *Bus) Connect(ctx context.Context) error {
	bo := newBackoffer(500*time.Millisecond, 30*time.Second, 250*time.Millisecond)
	for {
		err := b.connectOnce()
		if err == nil {
			break
		}
		b.logger("relay: connect failed: %v", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(bo.Next()):
		}
	}

	go b.publishLoop(context.Background())
	go b.monitorLoop(context.Background())

	if b.onReconnect != nil {
		b.onReconnect()
	}
	return nil
}

func (b *Bus) connectOnce() error {
	conn, err := amqp.Dial(b.cfg.URL)
	if err != nil {
		return fmt.Errorf("relay: dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("relay: channel open failed: %w", err)
	}
	if err := ch.ExchangeDeclare(b.cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("relay: exchange declare failed: %w", err)
	}
	q, err := ch.QueueDeclare(b.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("relay: queue declare failed: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.cfg.Exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("relay: queue bind failed: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("relay: consume failed: %w", err)
	}

	b.mu.Lock()
	b.conn = conn
	b.ch = ch
	b.mu.Unlock()

	go b.consumeLoop(deliveries)
	return nil
}

// monitorLoop watches for connection loss and reconnects with backoff,
// requesting a burst (via onReconnect) once the link is back up.
func (b *Bus) monitorLoop(ctx context.Context) {
	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-ctx.Done():
			return
		case err, ok := <-notifyClose:
			if !ok || b.isClosed() {
				return
			}
			b.logger("relay: connection lost: %v", err)
		}

		bo := newBackoffer(500*time.Millisecond, 30*time.Second, 250*time.Millisecond)
		for {
			if b.isClosed() {
				return
			}
			if err := b.connectOnce(); err != nil {
				b.logger("relay: reconnect failed: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(bo.Next()):
					continue
				}
			}
			break
		}
		if b.onReconnect != nil {
			b.onReconnect()
		}
	}
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bus) consumeLoop(deliveries <-chan amqp.Delivery) {
	for d := range deliveries {
		var env Envelope
		if err := json.Unmarshal(d.Body, &env); err != nil {
			b.logger("relay: failed to decode envelope: %v", err)
			continue
		}
		b.deliver(&env)
	}
}

// deliver applies loop prevention and idempotence before invoking handler.
func (b *Bus) deliver(env *Envelope) {
	if env.Origin == b.origin {
		return // loop prevention: never act on our own echo
	}
	if b.dedup.Seen(env.Origin, env.Seq) {
		return // idempotence: duplicate within the sliding window
	}
	if b.handler != nil {
		b.handler(env)
	}
}

func (b *Bus) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-b.outgoing:
			if !ok {
				return
			}
			b.publishNow(env)
		}
	}
}

func (b *Bus) publishNow(env *Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		b.logger("relay: failed to marshal envelope: %v", err)
		return
	}

	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch == nil {
		return
	}

	publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = ch.PublishWithContext(publishCtx, b.cfg.Exchange, string(env.Type), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		b.logger("relay: publish failed for %s seq=%d: %v", env.Type, env.Seq, err)
	}
}

// Publish encodes and enqueues a locally-originated event for delivery to
// the bus. It never blocks the caller on network I/O (§7 suspension
// points); if the outgoing buffer is full the event is dropped and logged,
// the same degrade-under-load behavior as conn.go's SendMessage.
func (b *Bus) Publish(typ EventType, payload interface{}) error {
	seq := atomic.AddUint64(&b.seq, 1)
	env, err := NewEnvelope(typ, b.origin, seq, time.Now().UnixMilli(), payload)
	if err != nil {
		return err
	}
	select {
	case b.outgoing <- env:
		return nil
	default:
		b.logger("relay: outgoing buffer full, dropping %s seq=%d", typ, seq)
		return fmt.Errorf("relay: outgoing buffer full")
	}
}

// Close shuts the bus down, closing the AMQP channel and connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	ch, conn := b.ch, b.conn
	b.mu.Unlock()

	close(b.outgoing)
	var err error
	if ch != nil {
		err = ch.Close()
	}
	if conn != nil {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
