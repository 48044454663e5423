package service

import (
	"context"
	"log/slog"
)

//go:generate mockgen -source=publisher.go -destination=mocks/mocks.go -package=mocks Publisher

// Publisher delivers a notification to every live session subscribed to
// any of topics. Implementations must not block on slow subscribers.
type Publisher interface {
	Publish(ctx context.Context, topics []string, eventType string, payload any) error
}

// publish sends a notification and logs a failed delivery. The mutation it
// reports has already committed, so the error never reaches the caller.
func publish(ctx context.Context, pub Publisher, logger *slog.Logger, topics []string, eventType string, payload any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, topics, eventType, payload); err != nil {
		logger.WarnContext(ctx, "broadcast failed",
			"type", eventType,
			"topics", topics,
			"error", err,
		)
	}
}
