package rabbitmq

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrInvalidReconcileRequest marks a reconcile.requested body that can never be
// handled: undecodable JSON or a blank scope.
var ErrInvalidReconcileRequest = errors.New("invalid reconcile request")

// ReconcileHandler handles one decoded reconcile request. Returning false
// re-queues the delivery.
type ReconcileHandler func(req ReconcileRequest) bool

// Consumer receives reconcile requests from the events exchange.
type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	// One pass at a time per consumer; a pass may hold ledger reads for minutes.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// DecodeReconcileRequest parses a reconcile.requested body. The scope is
// trimmed; an empty scope is invalid.
func DecodeReconcileRequest(body []byte) (ReconcileRequest, error) {
	var req ReconcileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return ReconcileRequest{}, fmt.Errorf("%w: %v", ErrInvalidReconcileRequest, err)
	}
	req.Scope = strings.TrimSpace(req.Scope)
	if req.Scope == "" {
		return ReconcileRequest{}, fmt.Errorf("%w: scope is required", ErrInvalidReconcileRequest)
	}
	return req, nil
}

// ConsumeReconcileRequests binds queueName to reconcile.requested on exchange
// and hands every decoded request to handle. Bodies that cannot be decoded
// are acknowledged and dropped here, so handle only sees valid requests.
func (c *Consumer) ConsumeReconcileRequests(exchange, queueName string, handle ReconcileHandler) error {
	if handle == nil {
		return fmt.Errorf("no reconcile handler provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := c.ch.QueueBind(q.Name, RoutingReconcileRequested, exchange, false, nil); err != nil {
		return err
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			if handleReconcileDelivery(d.RoutingKey, d.Body, handle) {
				_ = d.Ack(false)
				continue
			}
			log.Printf("level=warn component=rabbitmq_consumer msg=\"reconcile request re-queued\" routing_key=%s redelivered=%t", d.RoutingKey, d.Redelivered)
			_ = d.Nack(false, true)
		}
	}()

	return nil
}

// handleReconcileDelivery reports whether a delivery should be acknowledged.
func handleReconcileDelivery(routingKey string, body []byte, handle ReconcileHandler) bool {
	if routingKey != RoutingReconcileRequested {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"unexpected routing key; dropping\" routing_key=%s", routingKey)
		return true
	}
	req, err := DecodeReconcileRequest(body)
	if err != nil {
		log.Printf("level=warn component=rabbitmq_consumer msg=\"malformed reconcile request; dropping\" err=%v", err)
		return true
	}
	return handle(req)
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
