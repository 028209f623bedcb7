package broker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Topology describes the exchange, durable queues, and per-queue
// dead-letter queue the Gateway/Consumer/Engine expect (spec §6): one
// named exchange, queues bound by routing key, and a `<queue><DLXSuffix>`
// queue per source queue, bound to the same exchange under its own name.
type Topology struct {
	Exchange  string
	Queues    []QueueBinding
	DLXSuffix string
}

// QueueBinding names a durable queue and the routing key that feeds it.
type QueueBinding struct {
	Queue      string
	RoutingKey string
}

// Config configures an AMQP Client.
type Config struct {
	URL               string
	Topology          Topology
	Confirms          bool
	ConfirmTimeout    time.Duration
	MessagePersistent bool

	// ReconnectMinBackoff/MaxBackoff bound the exponential reconnect
	// delay used when the connection drops (spec §4.3 "bounded retry").
	ReconnectMinBackoff time.Duration
	ReconnectMaxBackoff time.Duration
}

// Client owns one AMQP connection and (re)declares the Topology on every
// (re)connect. Publisher and Consumer views are obtained from it.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	closing bool
}

// Dial connects to the broker, declares the topology, and starts the
// background reconnect loop. The topology is re-declared after every
// reconnect so a broker restart doesn't lose durable queue definitions.
func Dial(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.ReconnectMinBackoff == 0 {
		cfg.ReconnectMinBackoff = 500 * time.Millisecond
	}
	if cfg.ReconnectMaxBackoff == 0 {
		cfg.ReconnectMaxBackoff = 30 * time.Second
	}

	c := &Client{cfg: cfg, logger: logger}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.watchAndReconnect()
	return c, nil
}

func (c *Client) connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("broker: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("broker: open channel for topology: %w", err)
	}
	defer ch.Close()

	if err := declareTopology(ch, c.cfg.Topology); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func declareTopology(ch *amqp.Channel, topo Topology) error {
	if err := ch.ExchangeDeclare(topo.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare exchange %s: %w", topo.Exchange, err)
	}

	for _, qb := range topo.Queues {
		// Dead letters are published by the application (validator,
		// dedup check) with custom x-reason/x-field headers rather than
		// relying on broker-native x-dead-letter-exchange, which only
		// attaches x-death headers. The DLQ is bound to the same exchange
		// under a derived routing key so one Publisher can reach it.
		dlRoutingKey := qb.Queue + topo.DLXSuffix
		if _, err := ch.QueueDeclare(dlRoutingKey, true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker: declare dlq %s: %w", dlRoutingKey, err)
		}
		if err := ch.QueueBind(dlRoutingKey, dlRoutingKey, topo.Exchange, false, nil); err != nil {
			return fmt.Errorf("broker: bind dlq %s: %w", dlRoutingKey, err)
		}

		if _, err := ch.QueueDeclare(qb.Queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker: declare queue %s: %w", qb.Queue, err)
		}
		if err := ch.QueueBind(qb.Queue, qb.RoutingKey, topo.Exchange, false, nil); err != nil {
			return fmt.Errorf("broker: bind queue %s: %w", qb.Queue, err)
		}
	}
	return nil
}

// watchAndReconnect blocks on the connection's close notification and
// reconnects with capped exponential backoff while Publisher/Consumer
// callers see Healthy()==false and ErrBackpressure from Publish.
func (c *Client) watchAndReconnect() {
	for {
		c.mu.RLock()
		conn := c.conn
		closing := c.closing
		c.mu.RUnlock()
		if closing {
			return
		}
		if conn == nil {
			return
		}

		notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
		err := <-notifyClose
		c.mu.RLock()
		closing = c.closing
		c.mu.RUnlock()
		if closing {
			return
		}
		c.logger.Warn().Err(err).Msg("broker connection lost, reconnecting")

		backoff := c.cfg.ReconnectMinBackoff
		for attempt := 0; ; attempt++ {
			if err := c.connect(); err == nil {
				c.logger.Info().Msg("broker connection restored")
				break
			} else {
				c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("broker reconnect attempt failed")
			}
			time.Sleep(backoff)
			backoff = time.Duration(math.Min(float64(backoff*2), float64(c.cfg.ReconnectMaxBackoff)))

			c.mu.RLock()
			closing = c.closing
			c.mu.RUnlock()
			if closing {
				return
			}
		}
	}
}

// Close stops the reconnect loop and closes the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closing = true
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Healthy reports whether the underlying connection is currently open.
func (c *Client) Healthy(ctx context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// currentChannel opens a fresh channel on the live connection, or returns
// an error wrapped as back-pressure when no connection is currently up.
func (c *Client) currentChannel() (*amqp.Channel, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return nil, &ErrBackpressure{Cause: fmt.Errorf("broker: no live connection")}
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, &ErrBackpressure{Cause: err}
	}
	return ch, nil
}

// NewPublisher returns a Publisher bound to this client. Exchange is the
// client's configured topology exchange; publishes are confirmed when
// cfg.Confirms is set.
func (c *Client) NewPublisher() Publisher {
	return &amqpPublisher{client: c}
}

type amqpPublisher struct {
	client *Client
}

func (p *amqpPublisher) Publish(ctx context.Context, msg Message) error {
	ch, err := p.client.currentChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if p.client.cfg.Confirms {
		if err := ch.Confirm(false); err != nil {
			return &ErrBackpressure{Cause: fmt.Errorf("broker: enable confirms: %w", err)}
		}
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	headers := amqp.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}

	deliveryMode := amqp.Transient
	if p.client.cfg.MessagePersistent || msg.Persistent {
		deliveryMode = amqp.Persistent
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.client.cfg.ConfirmTimeout)
	defer cancel()

	err = ch.PublishWithContext(publishCtx, p.client.cfg.Topology.Exchange, msg.RoutingKey, false, false, amqp.Publishing{
		MessageId:    msg.ID,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: deliveryMode,
		Timestamp:    msg.Timestamp,
	})
	if err != nil {
		return &ErrBackpressure{Cause: err}
	}

	if !p.client.cfg.Confirms {
		return nil
	}

	select {
	case confirm := <-confirms:
		if !confirm.Ack {
			return &ErrBackpressure{Cause: fmt.Errorf("broker: publish not acked by broker")}
		}
		return nil
	case <-publishCtx.Done():
		return &ErrBackpressure{Cause: fmt.Errorf("broker: publish confirm timed out: %w", publishCtx.Err())}
	}
}

func (p *amqpPublisher) Healthy(ctx context.Context) bool { return p.client.Healthy(ctx) }
func (p *amqpPublisher) Close() error                     { return nil }

// NewConsumer returns a Consumer bound to this client.
func (c *Client) NewConsumer() Consumer {
	return &amqpConsumer{client: c}
}

type amqpConsumer struct {
	client *Client
	mu     sync.Mutex
	ch     *amqp.Channel
}

func (c *amqpConsumer) Deliveries(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error) {
	ch, err := c.client.currentChannel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("broker: set qos: %w", err)
	}

	raw, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("broker: consume %s: %w", queue, err)
	}

	c.mu.Lock()
	c.ch = ch
	c.mu.Unlock()

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-raw:
				if !ok {
					return
				}
				delivery := toDelivery(d)
				select {
				case out <- delivery:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func toDelivery(d amqp.Delivery) Delivery {
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return Delivery{
		Message: Message{
			ID:         d.MessageId,
			RoutingKey: d.RoutingKey,
			Body:       d.Body,
			Headers:    headers,
			Timestamp:  d.Timestamp,
		},
		Ack:  func() error { return d.Ack(false) },
		Nack: func(requeue bool) error { return d.Nack(false, requeue) },
	}
}

func (c *amqpConsumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return nil
	}
	return c.ch.Close()
}
