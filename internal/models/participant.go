package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is one team taking part in a room's auction.
type Participant struct {
	ID          uuid.UUID `json:"id"`
	RoomID      uuid.UUID `json:"room_id"`
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	Purse       int64     `json:"purse"`
	JoinedAt    time.Time `json:"joined_at"`
}
