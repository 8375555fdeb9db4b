package store

import (
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the room has no timer/queue row yet. Callers decide
	// whether that means "initialize" or "bail out".
	ErrNotFound = errors.New("room row not found")

	// ErrWriteFailed wraps any failed best-effort persistence. Non-fatal for
	// timer ticks, fatal for queue repair.
	ErrWriteFailed = errors.New("store write failed")

	// ErrDataUnavailable means the master lot list is empty or unreachable.
	// Fatal to starting an auction.
	ErrDataUnavailable = errors.New("master lot list unavailable")
)

// TimerState is the authoritative countdown row for one room.
// A timer is actually ticking iff IsActive && !IsPaused && TimeRemaining > 0.
type TimerState struct {
	RoomID        uuid.UUID `json:"room_id"`
	TimeRemaining int       `json:"time_remaining"`
	IsActive      bool      `json:"is_active"`
	IsPaused      bool      `json:"is_paused"`
}

// Ticking reports whether the room's timer is conceptually counting down.
func (s TimerState) Ticking() bool {
	return s.IsActive && !s.IsPaused && s.TimeRemaining > 0
}
