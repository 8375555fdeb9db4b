// Package notify delivers row-change notifications from the shared store to
// in-process subscribers and, through the Bridge, to NATS. Delivery is
// best-effort: events may be dropped or duplicated, and every consumer is
// built to reload state rather than patch it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ChangeEvent is one row-level change in the store.
type ChangeEvent struct {
	Table  string    `json:"table"`
	RoomID uuid.UUID `json:"room_id"`
	Op     string    `json:"op"`
}

// ListenerConfig configures the Postgres NOTIFY listener.
type ListenerConfig struct {
	DatabaseURL   string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string        // channel name to LISTEN on
	PingInterval  time.Duration // connection liveness check
	BufferSize    int           // per-subscriber event buffer
}

// DefaultListenerConfig returns the listener defaults.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: "room_changes",
		PingInterval:  90 * time.Second,
		BufferSize:    16,
	}
}

type subscriber struct {
	table  string
	roomID uuid.UUID
	ch     chan ChangeEvent
}

// Listener LISTENs on one Postgres channel and fans events out to
// subscribers filtered by table and room. A slow subscriber loses events
// instead of blocking the fan-out; consumers reconcile by full reload.
type Listener struct {
	listener *pq.Listener
	cfg      ListenerConfig

	mu   sync.Mutex
	subs map[*subscriber]bool
}

func NewListener(cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		return nil, fmt.Errorf("listen on channel %s: %w", cfg.NotifyChannel, err)
	}

	log.Info().Str("channel", cfg.NotifyChannel).Msg("listening for store notifications")

	return &Listener{
		listener: l,
		cfg:      cfg,
		subs:     make(map[*subscriber]bool),
	}, nil
}

// Subscribe registers for changes to one table, filtered to one room. The
// returned func cancels the subscription and closes the channel. An empty
// table matches every table, a zero roomID every room.
func (l *Listener) Subscribe(table string, roomID uuid.UUID) (<-chan ChangeEvent, func()) {
	sub := &subscriber{
		table:  table,
		roomID: roomID,
		ch:     make(chan ChangeEvent, l.cfg.BufferSize),
	}

	l.mu.Lock()
	l.subs[sub] = true
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if l.subs[sub] {
			delete(l.subs, sub)
			close(sub.ch)
		}
		l.mu.Unlock()
	}
	return sub.ch, cancel
}

// Start pumps notifications until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Msg("store listener started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("store listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// nil notification means the connection was re-established;
				// subscribers may have missed events and will reload.
				continue
			}
			l.dispatch(note.Extra)
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

// Stop closes the underlying connection and all subscriber channels.
func (l *Listener) Stop() error {
	l.mu.Lock()
	for sub := range l.subs {
		delete(l.subs, sub)
		close(sub.ch)
	}
	l.mu.Unlock()
	return l.listener.Close()
}

// dispatch parses one NOTIFY payload and fans it out.
func (l *Listener) dispatch(payload string) {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		log.Error().Err(err).Str("payload", payload).Msg("invalid notification payload")
		return
	}
	l.Dispatch(ev)
}

// Dispatch delivers an event to every matching subscriber without blocking.
func (l *Listener) Dispatch(ev ChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for sub := range l.subs {
		if sub.table != "" && sub.table != ev.Table {
			continue
		}
		if sub.roomID != uuid.Nil && sub.roomID != ev.RoomID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			log.Warn().
				Str("table", ev.Table).
				Str("room_id", ev.RoomID.String()).
				Msg("subscriber buffer full, dropping change event")
		}
	}
}
