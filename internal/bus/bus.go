// Package bus fans published PPE events out to every server instance.
// With Redis each instance subscribes to one pub/sub channel; without it
// delivery stays inside the process.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Publish after Close
var ErrClosed = errors.New("bus closed")

// Message is one event on its way to socket rooms
type Message struct {
	EventID string          `json:"eventId"`
	Topic   string          `json:"topic"`
	Rooms   []string        `json:"rooms"`
	Payload json.RawMessage `json:"payload"`
	// Origin is the id of the instance that published the message
	Origin string `json:"origin"`
}

// DeliverFunc receives every message seen by this instance
type DeliverFunc func(Message)

// Bus publishes messages and hands received ones to a DeliverFunc
type Bus struct {
	rdb     *redis.Client
	channel string
	logger  *logrus.Entry

	mu      sync.RWMutex
	deliver DeliverFunc
	pubsub  *redis.PubSub
	done    chan struct{}
	closed  bool
}

// New creates a bus. rdb may be nil for single-instance deployments.
func New(rdb *redis.Client, channel string, logger *logrus.Entry) *Bus {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{
		rdb:     rdb,
		channel: channel,
		logger:  logger.WithField("component", "event-bus"),
		done:    make(chan struct{}),
	}
}

// Distributed reports whether messages travel through Redis
func (b *Bus) Distributed() bool {
	return b.rdb != nil
}

// Start registers deliver and, with Redis, subscribes to the channel.
// It returns once the subscription is confirmed.
func (b *Bus) Start(ctx context.Context, deliver DeliverFunc) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.deliver = deliver
	b.mu.Unlock()

	if b.rdb == nil {
		b.logger.Info("Event bus running in local mode")
		return nil
	}

	pubsub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}

	b.mu.Lock()
	b.pubsub = pubsub
	b.mu.Unlock()

	go b.receive(pubsub.Channel())

	b.logger.WithField("channel", b.channel).Info("Event bus subscribed")
	return nil
}

func (b *Bus) receive(ch <-chan *redis.Message) {
	for {
		select {
		case <-b.done:
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			msg, err := Decode([]byte(raw.Payload))
			if err != nil {
				b.logger.WithError(err).Warn("Dropping malformed bus message")
				continue
			}
			b.dispatch(msg)
		}
	}
}

func (b *Bus) dispatch(msg Message) {
	b.mu.RLock()
	deliver := b.deliver
	b.mu.RUnlock()

	if deliver == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithField("eventId", msg.EventID).Errorf("Delivery panicked: %v", r)
		}
	}()
	deliver(msg)
}

// Publish sends msg to every instance, this one included
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if b.rdb == nil {
		b.dispatch(msg)
		return nil
	}

	data, err := Encode(msg)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.channel, err)
	}
	return nil
}

// Close stops receiving. It does not close the Redis client.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pubsub := b.pubsub
	b.mu.Unlock()

	close(b.done)
	if pubsub != nil {
		return pubsub.Close()
	}
	return nil
}

// Encode serializes a message for the wire
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bus message: %w", err)
	}
	return data, nil
}

// Decode parses a wire message
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal bus message: %w", err)
	}
	if msg.EventID == "" || msg.Topic == "" {
		return Message{}, fmt.Errorf("bus message missing eventId or topic")
	}
	return msg, nil
}
