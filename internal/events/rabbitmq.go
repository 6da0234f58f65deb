package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("no connection to RabbitMQ")

type RabbitMQConfig struct {
	URL        string
	Exchange   string
	RetryCount int
	RetryDelay time.Duration
}

func (c RabbitMQConfig) withDefaults() RabbitMQConfig {
	if c.Exchange == "" {
		c.Exchange = "payments.events"
	}
	if c.RetryCount <= 0 {
		c.RetryCount = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	return c
}

const maxReconnectDelay = time.Minute

// RabbitMQPublisher publishes status changes to a durable topic exchange with
// routing key payment.<status>.
type RabbitMQPublisher struct {
	config RabbitMQConfig
	logger *zap.SugaredLogger
	dial   func() (*amqp.Connection, *amqp.Channel, error)
	done   chan struct{}

	mu         sync.RWMutex
	connection *amqp.Connection
	channel    *amqp.Channel
	isClosing  bool
}

// NewRabbitMQPublisher dials the broker and declares the exchange.
func NewRabbitMQPublisher(cfg RabbitMQConfig, logger *zap.SugaredLogger) (*RabbitMQPublisher, error) {
	p := &RabbitMQPublisher{
		config: cfg.withDefaults(),
		logger: logger,
		done:   make(chan struct{}),
	}
	p.dial = p.dialBroker
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect tries RetryCount dials. Publish never waits on it: the lock is only
// taken to swap in a ready connection.
func (p *RabbitMQPublisher) connect() error {
	var err error
	for i := 0; i < p.config.RetryCount; i++ {
		var (
			conn *amqp.Connection
			ch   *amqp.Channel
		)
		conn, ch, err = p.dial()
		if err != nil {
			p.logger.Warnw("rabbitmq dial failed", "attempt", i+1, "of", p.config.RetryCount, "error", err)
			if i < p.config.RetryCount-1 && !p.sleep(p.config.RetryDelay) {
				return ErrNotConnected
			}
			continue
		}

		p.mu.Lock()
		if p.isClosing {
			p.mu.Unlock()
			ch.Close()
			conn.Close()
			return ErrNotConnected
		}
		p.connection, p.channel = conn, ch
		p.mu.Unlock()

		p.logger.Infow("connected to rabbitmq", "exchange", p.config.Exchange)
		go p.handleReconnection(conn)
		return nil
	}
	return fmt.Errorf("connect to rabbitmq: %w", err)
}

func (p *RabbitMQPublisher) dialBroker() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(p.config.URL)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		p.config.Exchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", p.config.Exchange, err)
	}
	return conn, ch, nil
}

func (p *RabbitMQPublisher) handleReconnection(conn *amqp.Connection) {
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	err, ok := <-notifyClose
	if !ok || p.closing() {
		return
	}
	p.logger.Warnw("rabbitmq connection lost, reconnecting", "error", err)
	p.reconnect()
}

// reconnect retries with doubling delays until connected or closed.
func (p *RabbitMQPublisher) reconnect() {
	delay := p.config.RetryDelay
	for {
		if !p.sleep(delay) {
			return
		}
		err := p.connect()
		if err == nil || p.closing() {
			return
		}
		p.logger.Errorw("rabbitmq reconnect failed", "retry_in", delay, "error", err)
		delay = min(delay*2, maxReconnectDelay)
	}
}

// sleep waits for d and reports false if the publisher was closed meanwhile.
func (p *RabbitMQPublisher) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-p.done:
		return false
	}
}

func (p *RabbitMQPublisher) closing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.isClosing
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, ev StatusChanged) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.channel == nil || p.connection == nil || p.connection.IsClosed() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Type == "" {
		ev.Type = TypeStatusChanged
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.channel.Publish(
		p.config.Exchange,
		RoutingKey(ev.To),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID,
			Timestamp:    ev.OccurredAt,
			Type:         ev.Type,
			Headers: amqp.Table{
				"payment_id": ev.PaymentID,
				"order_id":   ev.OrderID,
				"from":       ev.From,
				"to":         ev.To,
			},
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.ID, err)
	}
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isClosing {
		return nil
	}
	p.isClosing = true
	if p.done != nil {
		close(p.done)
	}

	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if p.connection != nil {
		if err := p.connection.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RoutingKey maps a payment status to its topic, e.g. CONFIRMED -> payment.confirmed.
func RoutingKey(status string) string {
	return "payment." + strings.ToLower(status)
}
