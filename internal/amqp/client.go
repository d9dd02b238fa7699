// Package amqp moves outbound work off the webhook path: balance message
// rendering and audit export both travel as durable queue messages.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	notifyQueue  string
	exportQueue  string
}

func NewClient(url, exchangeName, notifyQueue, exportQueue string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		notifyQueue:  notifyQueue,
		exportQueue:  exportQueue,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queues: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range []string{c.notifyQueue, c.exportQueue} {
		_, err = c.channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		// Routing key matches the queue name on a direct exchange.
		if err := c.channel.QueueBind(queue, queue, c.exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

func (c *Client) publish(ctx context.Context, queue string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		queue,          // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// PublishNotify publishes a balance notification request.
func (c *Client) PublishNotify(ctx context.Context, msg *NotifyMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal notify message: %w", err)
	}
	if err := c.publish(ctx, c.notifyQueue, body); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published notify message",
		"chat_id", msg.ChatID,
		"thread_id", msg.ThreadID,
		"queue", c.notifyQueue)
	return nil
}

// PublishEntrySync publishes an audit export request.
func (c *Client) PublishEntrySync(ctx context.Context, msg *EntrySyncMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal entry sync message: %w", err)
	}
	if err := c.publish(ctx, c.exportQueue, body); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Published entry sync message",
		"id", msg.ID,
		"chat_id", msg.ChatID,
		"queue", c.exportQueue)
	return nil
}

// ConsumeNotify consumes balance notification messages until ctx is done.
func (c *Client) ConsumeNotify(ctx context.Context, handler func(*NotifyMessage) error) error {
	return c.consume(ctx, c.notifyQueue, func(body []byte) error {
		msg, err := NotifyMessageFromJSON(body)
		if err != nil {
			return errUnmarshal{err}
		}
		return handler(msg)
	})
}

// ConsumeEntrySync consumes audit export messages until ctx is done.
func (c *Client) ConsumeEntrySync(ctx context.Context, handler func(*EntrySyncMessage) error) error {
	return c.consume(ctx, c.exportQueue, func(body []byte) error {
		msg, err := EntrySyncMessageFromJSON(body)
		if err != nil {
			return errUnmarshal{err}
		}
		return handler(msg)
	})
}

// errUnmarshal marks a poison message: rejected without requeue.
type errUnmarshal struct{ err error }

func (e errUnmarshal) Error() string { return e.err.Error() }

func (c *Client) consume(ctx context.Context, queue string, handle func([]byte) error) error {
	msgs, err := c.channel.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack (we want manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming %s: %w", queue, err)
	}

	slog.InfoContext(ctx, "Started consuming", "queue", queue)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping message consumption", "queue", queue, "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed for %s", queue)
			}

			err := handle(delivery.Body)
			if err == nil {
				delivery.Ack(false)
				continue
			}

			if _, poison := err.(errUnmarshal); poison {
				slog.ErrorContext(ctx, "Failed to unmarshal message", "queue", queue, "error", err)
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}

			slog.ErrorContext(ctx, "Failed to handle message", "queue", queue, "error", err)
			delivery.Nack(false, true) // reject and requeue
		}
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
