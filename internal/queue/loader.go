package queue

import (
	"context"
	"fmt"

	"github.com/lotline/lotline/internal/models"
	"github.com/lotline/lotline/internal/store"
)

// LotStore defines what the loader needs from the shared store.
type LotStore interface {
	ReadMasterLots(ctx context.Context) ([]models.Lot, error)
}

// Loader produces fresh lot queues from the master list.
type Loader struct {
	store LotStore
}

func NewLoader(store LotStore) *Loader {
	return &Loader{store: store}
}

// Load fetches the full master lot list. The store surfaces
// store.ErrDataUnavailable when the list is empty or unreachable; that is
// fatal to starting an auction and passed straight through.
func (l *Loader) Load(ctx context.Context) ([]models.Lot, error) {
	lots, err := l.store.ReadMasterLots(ctx)
	if err != nil {
		return nil, fmt.Errorf("load master lots: %w", err)
	}
	if len(lots) == 0 {
		return nil, store.ErrDataUnavailable
	}
	return lots, nil
}
