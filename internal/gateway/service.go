package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lotline/lotline/internal/models"
	"github.com/lotline/lotline/internal/notify"
	"github.com/lotline/lotline/internal/roster"
	"github.com/lotline/lotline/internal/store"
	"github.com/lotline/lotline/internal/timer"
)

// Store combines everything the gateway needs from the shared store.
type Store interface {
	ReadTimerState(ctx context.Context, roomID uuid.UUID) (store.TimerState, error)
	WriteTimerValue(ctx context.Context, roomID uuid.UUID, seconds int) error
	ReadQueue(ctx context.Context, roomID uuid.UUID) (json.RawMessage, error)
	ReadRoster(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error)
}

// QueueCoordinator validates and repairs a room's lot queue on viewer entry.
type QueueCoordinator interface {
	EnsureValid(ctx context.Context, roomID uuid.UUID) ([]models.Lot, error)
}

// Events is the change-notification source sessions subscribe to.
type Events interface {
	Subscribe(table string, roomID uuid.UUID) (<-chan notify.ChangeEvent, func())
}

// timersTable is the store table carrying per-room countdown rows.
const timersTable = "room_timers"

// Service wires viewer sessions together: each accepted WebSocket connection
// gets its own timer engine ticking locally, a shared per-room roster view,
// and a queue integrity check on entry.
type Service struct {
	store    Store
	events   Events
	queue    QueueCoordinator
	cm       *ConnectionManager
	timerCfg timer.Config

	// baseCtx bounds session lifetimes to the application, not to the
	// upgrade request: hijacked request contexts die when the handler
	// returns, long before the viewer disconnects.
	baseCtx context.Context

	mu      sync.Mutex
	rosters map[uuid.UUID]*roomRoster
}

type roomRoster struct {
	sync *roster.Sync
	refs int
}

func NewService(baseCtx context.Context, st Store, events Events, qc QueueCoordinator, cm *ConnectionManager, timerCfg timer.Config) *Service {
	return &Service{
		store:    st,
		events:   events,
		queue:    qc,
		cm:       cm,
		timerCfg: timerCfg,
		baseCtx:  baseCtx,
		rosters:  make(map[uuid.UUID]*roomRoster),
	}
}

// StartSession attaches a full viewer session to an accepted connection:
// queue integrity check, per-viewer timer engine seeded from the store,
// external-update subscription, and the shared roster view.
func (s *Service) StartSession(conn *Connection) error {
	ctx := s.baseCtx
	roomID := conn.RoomID

	// A corrupted or empty queue is repaired before the viewer sees the
	// room. Repair failure is fatal for the room's auction flow.
	lots, err := s.queue.EnsureValid(ctx, roomID)
	if err != nil {
		return err
	}
	log.Debug().
		Str("room_id", roomID.String()).
		Int("queue_len", len(lots)).
		Msg("lot queue verified for session")

	engine := timer.NewEngine(roomID, s.store, s.timerCfg,
		func(seconds int) {
			ev, err := NewEvent(roomID, EventTypeTimerTick, TimerTickPayload{TimeRemainingSec: seconds})
			if err != nil {
				return
			}
			conn.SendEvent(ev)
		},
		func() {
			ev, err := NewEvent(roomID, EventTypeTimerExpired, TimerTickPayload{TimeRemainingSec: 0})
			if err != nil {
				return
			}
			conn.SendEvent(ev)
		},
	)

	timerCh, unsubTimer := s.events.Subscribe(timersTable, roomID)

	if err := s.acquireRoster(ctx, roomID); err != nil {
		unsubTimer()
		return err
	}

	// Teardown is wired before the engine ticks or the pumps run, so a
	// disconnect at any later point always finds it attached.
	conn.OnClose = func() {
		unsubTimer()
		engine.Stop()
		s.releaseRoster(roomID)
	}

	// Seed local state from the store before ticking begins and give the
	// viewer one full snapshot including the active/paused flags.
	if st, err := s.store.ReadTimerState(ctx, roomID); err == nil {
		engine.Apply(st)
		if ev, eerr := NewEvent(roomID, EventTypeTimerState, TimerStatePayload{
			TimeRemainingSec: st.TimeRemaining,
			IsActive:         st.IsActive,
			IsPaused:         st.IsPaused,
		}); eerr == nil {
			conn.SendEvent(ev)
		}
	} else {
		log.Warn().
			Err(err).
			Str("room_id", roomID.String()).
			Msg("no timer state at session start; waiting for activation")
	}
	engine.Start(ctx)

	// Store change notifications become external updates. The channel may
	// drop events; reconciliation covers the gaps.
	go func() {
		for range timerCh {
			readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			st, err := s.store.ReadTimerState(readCtx, roomID)
			cancel()
			if err != nil {
				log.Warn().
					Err(err).
					Str("room_id", roomID.String()).
					Msg("timer change notification read failed")
				continue
			}
			engine.Apply(st)
		}
	}()
	return nil
}

// acquireRoster hands out the shared per-room roster sync, starting it on
// first use.
func (s *Service) acquireRoster(ctx context.Context, roomID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.rosters[roomID]; ok {
		entry.refs++
		return nil
	}

	rosterSync := roster.NewSync(roomID, s.store, s.events)
	rosterSync.OnUpdate = func(participants []models.Participant) {
		ev, err := NewEvent(roomID, EventTypeRosterUpdated, RosterUpdatedPayload{Participants: participants})
		if err != nil {
			return
		}
		s.cm.BroadcastToRoom(roomID, ev)
	}
	if err := rosterSync.Start(ctx); err != nil {
		return err
	}
	s.rosters[roomID] = &roomRoster{sync: rosterSync, refs: 1}
	return nil
}

func (s *Service) releaseRoster(roomID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.rosters[roomID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		entry.sync.Stop()
		delete(s.rosters, roomID)
	}
}

// Roster returns the shared roster view for a room, if any session holds it.
func (s *Service) Roster(roomID uuid.UUID) (*roster.Sync, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.rosters[roomID]
	if !ok {
		return nil, false
	}
	return entry.sync, true
}
