package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/campus-events/internal/metrics"
	"github.com/Shivanand-hulikatti/campus-events/internal/model"
)

// DefaultRelayChannel is the Redis pub/sub channel shared by all instances.
const DefaultRelayChannel = "campus:broadcast"

const defaultRelayQueue = 1024

// envelope is the wire form of one relayed notification.
type envelope struct {
	Topics       []string           `json:"topics"`
	Notification model.Notification `json:"notification"`
}

// Relay fans notifications out across instances through Redis pub/sub.
// Publish stamps the notification and queues it; a single writer goroutine
// started by Run pushes the queue to Redis in order. Every instance,
// including the publisher, receives it back and hands it to its local Hub.
type Relay struct {
	client  *redis.Client
	hub     *Hub
	channel string
	queue   chan envelope

	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithChannel overrides the Redis channel.
func WithChannel(name string) RelayOption {
	return func(r *Relay) {
		if name != "" {
			r.channel = name
		}
	}
}

// WithQueueSize bounds the number of notifications waiting for Redis.
func WithQueueSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.queue = make(chan envelope, n)
		}
	}
}

// WithRelayLogger sets the relay logger.
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

// WithRelayMetrics records dropped notifications.
func WithRelayMetrics(m *metrics.Metrics) RelayOption {
	return func(r *Relay) { r.metrics = m }
}

// NewRelay binds hub to client. Nothing moves until Run is called.
func NewRelay(client *redis.Client, hub *Hub, opts ...RelayOption) *Relay {
	r := &Relay{
		client:  client,
		hub:     hub,
		channel: DefaultRelayChannel,
		queue:   make(chan envelope, defaultRelayQueue),
		logger:  slog.Default(),
		now:     hub.now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish queues a notification for every instance. It never waits for
// Redis; a full queue drops the notification.
func (r *Relay) Publish(_ context.Context, topics []string, eventType string, payload any) error {
	env := envelope{
		Topics:       append([]string(nil), topics...),
		Notification: NewNotification(eventType, payload, r.now()),
	}
	select {
	case r.queue <- env:
		return nil
	default:
		r.metrics.AddDropped(1)
		return fmt.Errorf("%w: relay queue full", ErrChannelUnavailable)
	}
}

// Run subscribes to the relay channel and pumps notifications both ways
// until ctx is cancelled or Redis fails.
func (r *Relay) Run(ctx context.Context) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	// Wait for the subscription to be confirmed so nothing published after
	// Run starts is missed.
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("broadcast relay subscribed", "channel", r.channel)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.write(ctx) })
	g.Go(func() error { return r.read(ctx, ps.Channel()) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Relay) write(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-r.queue:
			body, err := json.Marshal(env)
			if err != nil {
				r.logger.Error("encode relayed notification", "type", env.Notification.Type, "error", err)
				continue
			}
			if err := r.client.Publish(ctx, r.channel, body).Err(); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.metrics.AddDropped(1)
				r.logger.Warn("relay publish failed", "type", env.Notification.Type, "error", err)
			}
		}
	}
}

func (r *Relay) read(ctx context.Context, msgs <-chan *redis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("relay subscription closed")
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("discarding malformed relay message", "error", err)
				continue
			}
			// Drops are already logged and counted by the hub.
			_ = r.hub.Deliver(env.Topics, env.Notification)
		}
	}
}
