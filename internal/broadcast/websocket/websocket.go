// Package websocket publishes fight and campaign updates to the realtime
// server over a single outbound WebSocket connection.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/chiwar/encounter/internal/broadcast"
	"github.com/chiwar/encounter/pkg/streaming"
)

// Config holds WebSocket publisher configuration.
type Config struct {
	URL    string
	Secret string
	Source string // announced in the hello message
}

// Publisher streams envelopes to the realtime server. The latest
// fight_updated envelope of every active fight is kept and replayed after
// a reconnect.
type Publisher struct {
	conn *connection
	cfg  Config
}

var _ broadcast.Publisher = (*Publisher)(nil)

// New creates a new WebSocket publisher.
func New(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Source == "" {
		cfg.Source = "encounter"
	}
	return &Publisher{
		conn: newConnection(logger.With("component", "websocket")),
		cfg:  cfg,
	}
}

// Init connects to the realtime server and waits for it to ack the hello.
func (p *Publisher) Init() error {
	if err := p.conn.dial(p.cfg.URL, p.cfg.Secret); err != nil {
		return err
	}

	env, err := streaming.NewEnvelope(streaming.TypeHello, "", streaming.HelloPayload{Source: p.cfg.Source})
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal hello envelope: %w", err)
	}

	p.conn.mu.Lock()
	p.conn.hello = data
	p.conn.mu.Unlock()

	return p.conn.sendAndWait(data, env.ID, ackTimeout)
}

// Close disconnects from the realtime server.
func (p *Publisher) Close() error {
	return p.conn.close()
}

// Publish queues env for delivery without waiting for the server.
func (p *Publisher) Publish(ctx context.Context, env streaming.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", env.Type, err)
	}

	if env.Type == streaming.TypeFightUpdated {
		if fightEnded(env.Payload) {
			p.conn.snapshots.Delete(env.Channel)
		} else {
			p.conn.snapshots.Set(env.Channel, data)
		}
	}

	if !p.conn.send(data) {
		return fmt.Errorf("websocket queue full, dropped %s for %s", env.Type, env.Channel)
	}
	return nil
}

// fightEnded reads the active flag of a projected encounter.
func fightEnded(payload json.RawMessage) bool {
	var head struct {
		Active *bool `json:"active"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.Active == nil {
		return false
	}
	return !*head.Active
}
