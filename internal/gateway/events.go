package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lotline/lotline/internal/models"
)

// EventType identifies a room event sent to viewers.
type EventType string

const (
	EventTypeTimerTick     EventType = "TimerTick"
	EventTypeTimerState    EventType = "TimerState"
	EventTypeTimerExpired  EventType = "TimerExpired"
	EventTypeRosterUpdated EventType = "RosterUpdated"
	EventTypeQueueRepaired EventType = "QueueRepaired"
)

// Event is the envelope every WebSocket message uses.
type Event struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// TimerTickPayload carries the viewer's local countdown value.
type TimerTickPayload struct {
	TimeRemainingSec int `json:"time_remaining_sec"`
}

// TimerStatePayload is the full countdown snapshot sent once at session
// start; ticks afterwards carry only the remaining seconds.
type TimerStatePayload struct {
	TimeRemainingSec int  `json:"time_remaining_sec"`
	IsActive         bool `json:"is_active"`
	IsPaused         bool `json:"is_paused"`
}

// RosterUpdatedPayload carries a full roster snapshot; viewers replace, not
// patch.
type RosterUpdatedPayload struct {
	Participants []models.Participant `json:"participants"`
}

// QueueRepairedPayload announces a wholesale queue replacement.
type QueueRepairedPayload struct {
	TotalLots int `json:"total_lots"`
}

// NewEvent builds an event envelope with a marshaled payload.
func NewEvent(roomID uuid.UUID, eventType EventType, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		RoomID:    roomID.String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}
