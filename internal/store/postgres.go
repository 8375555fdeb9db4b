package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lotline/lotline/internal/models"
)

// Postgres implements the shared store contract against the rooms,
// room_timers, lots and room_participants tables. It is the single point of
// shared mutable state between viewer sessions; writes are last-writer-wins
// and never serialized against other viewers.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// ReadTimerState fetches the authoritative countdown row for a room.
func (p *Postgres) ReadTimerState(ctx context.Context, roomID uuid.UUID) (TimerState, error) {
	st := TimerState{RoomID: roomID}
	row := p.pool.QueryRow(ctx,
		`SELECT time_remaining, is_active, is_paused FROM room_timers WHERE room_id = $1`,
		roomID,
	)
	if err := row.Scan(&st.TimeRemaining, &st.IsActive, &st.IsPaused); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TimerState{}, fmt.Errorf("timer state for room %s: %w", roomID, ErrNotFound)
		}
		return TimerState{}, fmt.Errorf("read timer state for room %s: %w", roomID, err)
	}
	return st, nil
}

// WriteTimerValue persists a new countdown value. Partial-field update: only
// time_remaining and the bookkeeping timestamp change.
func (p *Postgres) WriteTimerValue(ctx context.Context, roomID uuid.UUID, seconds int) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE room_timers SET time_remaining = $2, updated_at = now() WHERE room_id = $1`,
		roomID, seconds,
	)
	if err != nil {
		return fmt.Errorf("%w: timer value for room %s: %v", ErrWriteFailed, roomID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("timer value for room %s: %w", roomID, ErrNotFound)
	}
	return nil
}

// ReadMasterLots returns the full master lot list.
func (p *Postgres) ReadMasterLots(ctx context.Context) ([]models.Lot, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, base_price, role, country FROM lots ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query master lots: %v", ErrDataUnavailable, err)
	}
	defer rows.Close()

	var lots []models.Lot
	for rows.Next() {
		var l models.Lot
		if err := rows.Scan(&l.ID, &l.Name, &l.BasePrice, &l.Role, &l.Country); err != nil {
			return nil, fmt.Errorf("scan lot: %w", err)
		}
		lots = append(lots, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate master lots: %v", ErrDataUnavailable, err)
	}
	if len(lots) == 0 {
		return nil, ErrDataUnavailable
	}
	return lots, nil
}

// ReadQueue returns the room's stored lot queue as raw JSON. The shape is
// untrusted until it passes queue validation.
func (p *Postgres) ReadQueue(ctx context.Context, roomID uuid.UUID) (json.RawMessage, error) {
	var raw []byte
	row := p.pool.QueryRow(ctx, `SELECT player_queue FROM rooms WHERE id = $1`, roomID)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("queue for room %s: %w", roomID, ErrNotFound)
		}
		return nil, fmt.Errorf("read queue for room %s: %w", roomID, err)
	}
	return raw, nil
}

// WriteQueue replaces the room's queue wholesale: player_queue, total_players
// and updated_at land in one statement so no reader ever observes a count
// that disagrees with the queue.
func (p *Postgres) WriteQueue(ctx context.Context, roomID uuid.UUID, lots []models.Lot, count int, ts time.Time) error {
	payload, err := json.Marshal(lots)
	if err != nil {
		return fmt.Errorf("marshal queue for room %s: %w", roomID, err)
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE rooms SET player_queue = $2, total_players = $3, updated_at = $4 WHERE id = $1`,
		roomID, payload, count, ts,
	)
	if err != nil {
		return fmt.Errorf("%w: queue for room %s: %v", ErrWriteFailed, roomID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue for room %s: %w", roomID, ErrNotFound)
	}
	return nil
}

// ReadRoster returns all participants of a room, stable join order.
func (p *Postgres) ReadRoster(ctx context.Context, roomID uuid.UUID) ([]models.Participant, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, room_id, identity, display_name, purse, joined_at
		   FROM room_participants WHERE room_id = $1 ORDER BY joined_at, id`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("query roster for room %s: %w", roomID, err)
	}
	defer rows.Close()

	var roster []models.Participant
	for rows.Next() {
		var pt models.Participant
		if err := rows.Scan(&pt.ID, &pt.RoomID, &pt.Identity, &pt.DisplayName, &pt.Purse, &pt.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		roster = append(roster, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster for room %s: %w", roomID, err)
	}
	return roster, nil
}
