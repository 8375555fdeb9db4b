package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// BridgeConfig configures the NATS bridge.
type BridgeConfig struct {
	URL           string
	SubjectPrefix string // e.g. "room.changes"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultBridgeConfig returns default bridge configuration.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "room.changes",
		MaxReconnects: -1, // infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Bridge forwards store change events onto NATS subjects so out-of-process
// consumers (presentation services, analytics) can follow rooms without
// holding their own Postgres listener.
type Bridge struct {
	nc  *nats.Conn
	cfg BridgeConfig
}

func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	return &Bridge{nc: nc, cfg: cfg}, nil
}

// Run consumes change events until the channel closes or ctx is cancelled.
func (b *Bridge) Run(ctx context.Context, events <-chan ChangeEvent) {
	log.Info().Str("subject_prefix", b.cfg.SubjectPrefix).Msg("NATS bridge started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("NATS bridge shutting down")
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := b.publish(ev); err != nil {
				log.Error().
					Err(err).
					Str("table", ev.Table).
					Str("room_id", ev.RoomID.String()).
					Msg("failed to publish change event")
			}
		}
	}
}

func (b *Bridge) publish(ev ChangeEvent) error {
	subject := fmt.Sprintf("%s.%s.%s", b.cfg.SubjectPrefix, ev.Table, ev.RoomID)

	envelope := map[string]any{
		"table":     ev.Table,
		"roomId":    ev.RoomID.String(),
		"op":        ev.Op,
		"timestamp": time.Now().UTC(),
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal change envelope: %w", err)
	}

	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (b *Bridge) Close() {
	if b.nc != nil {
		b.nc.Close()
	}
}
