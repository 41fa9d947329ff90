// Package broadcast delivers fight and campaign updates to realtime subscribers.
package broadcast

import (
	"context"
	"log/slog"

	"github.com/chiwar/encounter/pkg/streaming"
)

// Publisher pushes an envelope to the subscribers of its channel.
// Implementations must not block on slow subscribers.
type Publisher interface {
	Publish(ctx context.Context, env streaming.Envelope) error
}

// Nop discards every envelope.
type Nop struct{}

func (Nop) Publish(context.Context, streaming.Envelope) error { return nil }

// Log writes each envelope to a logger at debug level instead of delivering it.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Publish(ctx context.Context, env streaming.Envelope) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "broadcast", "type", env.Type, "channel", env.Channel, "id", env.ID, "bytes", len(env.Payload))
	return nil
}

// Multi fans out to every publisher and returns the first error.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, env streaming.Envelope) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, env); err != nil && first == nil {
			first = err
		}
	}
	return first
}
