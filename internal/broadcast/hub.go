// Package broadcast is the real-time publish/subscribe layer.
//
// Delivery is at-most-once and best effort. Publish never blocks on a
// subscriber: each subscription owns a bounded buffer, and a full buffer
// drops the notification and marks the subscription for resync. There is
// no replay; a client that misses notifications re-fetches full state.
// Within one subscription, notifications arrive in publish order.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/campus-events/internal/metrics"
	"github.com/Shivanand-hulikatti/campus-events/internal/model"
)

// Notification kinds.
const (
	KindNewEvent              = "new-event"
	KindEventUpdated          = "event-updated"
	KindEventDeleted          = "event-deleted"
	KindRegistrationCreated   = "registration-created"
	KindRegistrationCancelled = "registration-cancelled"
	KindRegistrationPromoted  = "registration-promoted"
	KindAttendanceMarked      = "attendance-marked"
)

var titles = map[string]string{
	KindNewEvent:              "New event",
	KindEventUpdated:          "Event updated",
	KindEventDeleted:          "Event removed",
	KindRegistrationCreated:   "New registration",
	KindRegistrationCancelled: "Registration cancelled",
	KindRegistrationPromoted:  "Promoted from waitlist",
	KindAttendanceMarked:      "Attendance updated",
}

// ErrChannelUnavailable is returned by Publish when a notification could
// not be handed to every subscriber. Mutating callers log it and move on.
var ErrChannelUnavailable = errors.New("broadcast channel unavailable")

// DefaultBufferSize is the per-subscription buffer used when none is configured.
const DefaultBufferSize = 64

// Summarizer lets a payload provide the human-readable notification message.
type Summarizer interface {
	Summary() string
}

// NewNotification stamps a notification for eventType. Topic and Seq are
// filled in per subscription at delivery.
func NewNotification(eventType string, payload any, now time.Time) model.Notification {
	n := model.Notification{
		ID:        uuid.NewString(),
		Type:      eventType,
		Title:     titles[eventType],
		Timestamp: now.UTC(),
		Payload:   payload,
	}
	if s, ok := payload.(Summarizer); ok {
		n.Message = s.Summary()
	}
	if n.Title == "" {
		n.Title = eventType
	}
	return n
}

// Hub fans notifications out to the subscriptions of this process.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*Subscription]struct{}

	bufferSize int
	logger     *slog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-subscription buffer.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithMetrics records delivery counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithClock overrides the notification timestamp source.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

// NewHub constructs an empty Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		topics:     make(map[string]map[*Subscription]struct{}),
		bufferSize: DefaultBufferSize,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish delivers a new notification to every subscription of any of
// topics. A subscription on several of the topics receives it once.
func (h *Hub) Publish(_ context.Context, topics []string, eventType string, payload any) error {
	return h.Deliver(topics, NewNotification(eventType, payload, h.now()))
}

// Deliver fans out an already-stamped notification. The relay uses it to
// hand notifications received from other instances to local sessions.
func (h *Hub) Deliver(topics []string, n model.Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered, dropped := 0, 0
	seen := make(map[*Subscription]struct{})
	for _, topic := range topics {
		for sub := range h.topics[topic] {
			if _, dup := seen[sub]; dup {
				continue
			}
			seen[sub] = struct{}{}

			n.Topic = topic
			if sub.trySend(n) {
				delivered++
			} else {
				dropped++
			}
		}
	}

	h.metrics.AddDelivered(delivered)
	if dropped > 0 {
		h.metrics.AddDropped(dropped)
		h.logger.Warn("broadcast dropped notifications",
			"type", n.Type,
			"notification_id", n.ID,
			"dropped", dropped,
			"delivered", delivered,
		)
		return fmt.Errorf("%w: %d of %d subscribers missed %s", ErrChannelUnavailable, dropped, dropped+delivered, n.Type)
	}
	return nil
}

// Subscribe registers a new subscription on topics.
func (h *Hub) Subscribe(topics ...string) *Subscription {
	sub := &Subscription{
		hub:    h,
		ch:     make(chan model.Notification, h.bufferSize),
		done:   make(chan struct{}),
		topics: make(map[string]struct{}),
		seq:    make(map[string]uint64),
	}
	h.mu.Lock()
	h.addLocked(sub, topics)
	h.mu.Unlock()

	h.metrics.SubscriberAdded()
	return sub
}

// SubscriberCount returns the number of subscriptions on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

func (h *Hub) addLocked(sub *Subscription, topics []string) {
	if sub.closed {
		return
	}
	for _, topic := range topics {
		subs, ok := h.topics[topic]
		if !ok {
			subs = make(map[*Subscription]struct{})
			h.topics[topic] = subs
		}
		subs[sub] = struct{}{}
		sub.topics[topic] = struct{}{}
	}
}

func (h *Hub) removeLocked(sub *Subscription, topics []string) {
	for _, topic := range topics {
		if subs, ok := h.topics[topic]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
		delete(sub.topics, topic)
		delete(sub.seq, topic)
	}
}

// Subscription is one live session's view of the hub. The owner reads C
// until it is closed and calls Close when the session ends.
type Subscription struct {
	hub *Hub
	ch  chan model.Notification

	// Guarded by hub.mu.
	topics map[string]struct{}
	closed bool
	seq    map[string]uint64

	resync    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// C delivers notifications in publish order. It is closed by Close.
func (s *Subscription) C() <-chan model.Notification { return s.ch }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Add joins more topics.
func (s *Subscription) Add(topics ...string) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.addLocked(s, topics)
}

// Remove leaves topics.
func (s *Subscription) Remove(topics ...string) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s, topics)
}

// Topics returns the subscribed topics.
func (s *Subscription) Topics() []string {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	topics := make([]string, 0, len(s.topics))
	for t := range s.topics {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}

// TakeResync reports whether notifications were dropped since the last
// call, and clears the flag. The owner should tell its client to re-fetch.
func (s *Subscription) TakeResync() bool {
	return s.resync.Swap(false)
}

// Close leaves every topic and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.mu.Lock()
		topics := make([]string, 0, len(s.topics))
		for t := range s.topics {
			topics = append(topics, t)
		}
		s.hub.removeLocked(s, topics)
		s.closed = true
		close(s.ch)
		s.hub.mu.Unlock()

		close(s.done)
		s.hub.metrics.SubscriberRemoved()
	})
}

// trySend is called with hub.mu held. It never blocks: on a full buffer
// the notification is dropped and the subscription marked for resync.
func (s *Subscription) trySend(n model.Notification) bool {
	if s.closed {
		return false
	}
	n.Seq = s.seq[n.Topic] + 1
	select {
	case s.ch <- n:
		s.seq[n.Topic] = n.Seq
		return true
	default:
		s.resync.Store(true)
		return false
	}
}
