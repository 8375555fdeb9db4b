// Package roster keeps a read-mostly local view of a room's participants.
package roster

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lotline/lotline/internal/models"
	"github.com/lotline/lotline/internal/notify"
)

// RosterStore defines what the sync needs from the shared store.
type RosterStore interface {
	ReadRoster(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error)
}

// Events defines the change-notification source.
type Events interface {
	Subscribe(table string, roomID uuid.UUID) (<-chan notify.ChangeEvent, func())
}

// participantsTable is the store table the sync follows.
const participantsTable = "room_participants"

// Sync loads a room's roster once on start and fully reloads it on every
// change notification. No incremental patching: rosters are small (bounded
// by the number of teams) and the notification channel may drop events, so
// reload-on-any-change is both simpler and self-healing.
type Sync struct {
	roomID uuid.UUID
	store  RosterStore
	events Events

	// OnUpdate, when set before Start, runs after every successful reload
	// with the fresh snapshot.
	OnUpdate func([]models.Participant)

	mu           sync.RWMutex
	participants []models.Participant

	unsub func()
	done  chan struct{}
}

func NewSync(roomID uuid.UUID, store RosterStore, events Events) *Sync {
	return &Sync{
		roomID: roomID,
		store:  store,
		events: events,
	}
}

// Start performs the initial load and begins following change notifications.
func (s *Sync) Start(ctx context.Context) error {
	if err := s.reload(ctx); err != nil {
		return fmt.Errorf("initial roster load for room %s: %w", s.roomID, err)
	}

	ch, unsub := s.events.Subscribe(participantsTable, s.roomID)
	s.unsub = unsub
	s.done = make(chan struct{})

	go s.loop(ctx, ch)
	return nil
}

// Stop cancels the subscription and waits for the loop to exit.
func (s *Sync) Stop() {
	if s.unsub != nil {
		s.unsub()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *Sync) loop(ctx context.Context, ch <-chan notify.ChangeEvent) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			if err := s.reload(ctx); err != nil {
				log.Warn().
					Err(err).
					Str("room_id", s.roomID.String()).
					Msg("roster reload failed; keeping previous view")
			}
		}
	}
}

func (s *Sync) reload(ctx context.Context) error {
	roster, err := s.store.ReadRoster(ctx, s.roomID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.participants = roster
	s.mu.Unlock()

	log.Debug().
		Str("room_id", s.roomID.String()).
		Int("participants", len(roster)).
		Msg("roster reloaded")

	if s.OnUpdate != nil {
		s.OnUpdate(roster)
	}
	return nil
}

// Participants returns a snapshot of the current roster.
func (s *Sync) Participants() []models.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Participant, len(s.participants))
	copy(out, s.participants)
	return out
}

// Self returns the participant record matching the given identity.
func (s *Sync) Self(identity string) (models.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.participants {
		if p.Identity == identity {
			return p, true
		}
	}
	return models.Participant{}, false
}
