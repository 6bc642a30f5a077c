package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/simonhayes51/sbccrawler-sub000/pkg/logger"
)

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	URL            string
	Name           string
	Stream         string
	MaxAge         time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns a sensible default configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            "nats://localhost:4222",
		Name:           "sbc-crawler",
		Stream:         "CATALOG",
		MaxAge:         7 * 24 * time.Hour,
		MaxReconnects:  -1,
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 10 * time.Second,
	}
}

// Publisher publishes catalog events to a JetStream stream.
type Publisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config NATSConfig
	log    *logger.Logger
}

// NewPublisher connects to NATS and makes sure the catalog stream exists.
func NewPublisher(ctx context.Context, cfg NATSConfig, log *logger.Logger) (*Publisher, error) {
	if log == nil {
		log = logger.Default()
	}
	p := &Publisher{config: cfg, log: log.WithComponent("events")}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.log.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			p.log.Info("reconnected to NATS", "url", conn.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	p.conn, p.js = conn, js

	if err := p.setupStream(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	p.log.Info("connected to NATS", "url", cfg.URL, "stream", cfg.Stream)
	return p, nil
}

func (p *Publisher) setupStream(ctx context.Context) error {
	cfg := &nats.StreamConfig{
		Name:        p.config.Stream,
		Description: "Challenge catalog change events",
		Subjects:    []string{"catalog.>"},
		Storage:     nats.FileStorage,
		Retention:   nats.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     -1,
		MaxBytes:    -1,
		Replicas:    1,
		Discard:     nats.DiscardOld,
	}

	_, err := p.js.StreamInfo(cfg.Name, nats.Context(ctx))
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := p.js.AddStream(cfg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		p.log.Info("created stream", "stream", cfg.Name)
	case err != nil:
		return fmt.Errorf("failed to get stream info for %s: %w", cfg.Name, err)
	default:
		if _, err := p.js.UpdateStream(cfg, nats.Context(ctx)); err != nil {
			p.log.Warn("failed to update stream", "stream", cfg.Name, "error", err)
		}
	}
	return nil
}

// Publish publishes an event as JSON to a subject.
func (p *Publisher) Publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.log.Debug("published event", "subject", subject, "size", len(data))
	return nil
}

// IsConnected returns true if connected to NATS.
func (p *Publisher) IsConnected() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("failed to drain connection: %w", err)
	}
	return nil
}
