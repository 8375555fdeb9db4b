package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/lotline/lotline/internal/models"
)

// ErrRepairFailed means a fresh queue could not be written back. Callers must
// treat this as fatal for the room's auction flow; a partial queue is never
// acceptable.
var ErrRepairFailed = errors.New("queue repair failed")

// RepairStore defines what the coordinator needs from the shared store.
type RepairStore interface {
	ReadQueue(ctx context.Context, roomID uuid.UUID) (json.RawMessage, error)
	WriteQueue(ctx context.Context, roomID uuid.UUID, lots []models.Lot, count int, ts time.Time) error
}

// Coordinator restores a room to a valid queue after corruption is detected.
// Repair always discards the prior queue in full: a corrupted ordered queue
// cannot be trusted to say which lots were already presented, so merging is
// never attempted.
type Coordinator struct {
	store  RepairStore
	loader *Loader
	rng    *rand.Rand
	clock  clockwork.Clock

	// OnRepair, when set, runs after every successful repair so viewers can
	// be told the queue was replaced wholesale.
	OnRepair func(roomID uuid.UUID, totalLots int)
}

func NewCoordinator(store RepairStore, loader *Loader) *Coordinator {
	return &Coordinator{
		store:  store,
		loader: loader,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		clock:  clockwork.NewRealClock(),
	}
}

// Repair builds a fresh shuffled queue from the master list and writes it
// back wholesale, together with the matching total_players count and an
// updated timestamp.
func (c *Coordinator) Repair(ctx context.Context, roomID uuid.UUID) ([]models.Lot, error) {
	lots, err := c.loader.Load(ctx)
	if err != nil {
		return nil, err
	}

	shuffled := Shuffle(c.rng, lots)
	if err := c.store.WriteQueue(ctx, roomID, shuffled, len(shuffled), c.clock.Now()); err != nil {
		return nil, fmt.Errorf("%w: room %s: %v", ErrRepairFailed, roomID, err)
	}

	log.Info().
		Str("room_id", roomID.String()).
		Int("total_lots", len(shuffled)).
		Msg("queue repaired with fresh shuffle")
	if c.OnRepair != nil {
		c.OnRepair(roomID, len(shuffled))
	}
	return shuffled, nil
}

// EnsureValid returns the room's stored queue when it passes validation and
// repairs it otherwise. A read failure counts as corruption: the queue is
// rebuilt rather than guessed at.
func (c *Coordinator) EnsureValid(ctx context.Context, roomID uuid.UUID) ([]models.Lot, error) {
	raw, err := c.store.ReadQueue(ctx, roomID)
	if err == nil && Validate(raw) {
		var lots []models.Lot
		if uerr := json.Unmarshal(raw, &lots); uerr == nil {
			return lots, nil
		}
	}

	log.Warn().
		Str("room_id", roomID.String()).
		AnErr("read_err", err).
		Msg("stored queue invalid or unreadable; repairing")
	return c.Repair(ctx, roomID)
}
