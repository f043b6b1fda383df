package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInstantiated
	EventTypeRoundStarted
	EventTypeRoundLocked
	EventTypeRoundEnded
	EventTypeBetPlaced
	EventTypeRewardClaimed
	EventTypeStakeRefunded
	EventTypeTreasuryClaimed
	EventTypePaused
	EventTypeUnpaused
	EventTypeConfigUpdated
)

// Event is the interface all event payloads must implement
type Event interface {
	// EventType returns the discriminator
	EventType() EventType

	// Epoch returns the round the event concerns (0 for global events)
	Epoch() uint64
}

func (et EventType) String() string {
	switch et {
	case EventTypeInstantiated:
		return "Instantiated"
	case EventTypeRoundStarted:
		return "RoundStarted"
	case EventTypeRoundLocked:
		return "RoundLocked"
	case EventTypeRoundEnded:
		return "RoundEnded"
	case EventTypeBetPlaced:
		return "BetPlaced"
	case EventTypeRewardClaimed:
		return "RewardClaimed"
	case EventTypeStakeRefunded:
		return "StakeRefunded"
	case EventTypeTreasuryClaimed:
		return "TreasuryClaimed"
	case EventTypePaused:
		return "Paused"
	case EventTypeUnpaused:
		return "Unpaused"
	case EventTypeConfigUpdated:
		return "ConfigUpdated"
	default:
		return "Unknown"
	}
}

// Subject returns the snake_case token used in outbound subjects.
func (et EventType) Subject() string {
	switch et {
	case EventTypeInstantiated:
		return "instantiated"
	case EventTypeRoundStarted:
		return "start_round"
	case EventTypeRoundLocked:
		return "lock_round"
	case EventTypeRoundEnded:
		return "end_round"
	case EventTypeBetPlaced:
		return "bet"
	case EventTypeRewardClaimed:
		return "claim"
	case EventTypeStakeRefunded:
		return "refund"
	case EventTypeTreasuryClaimed:
		return "claim_treasury"
	case EventTypePaused:
		return "pause"
	case EventTypeUnpaused:
		return "unpause"
	case EventTypeConfigUpdated:
		return "config_updated"
	default:
		return "unknown"
	}
}

// Envelope wraps an event for the outbound stream
type Envelope struct {
	// Receipt sequence of the invocation that produced the event
	Sequence int64

	// Command that produced the event
	CommandID uuid.UUID

	// Invocation time (the executor's clock, NOT publish time)
	Timestamp time.Time

	Event Event
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Sequence  int64     `json:"sequence"`
		CommandID uuid.UUID `json:"command_id"`
		Timestamp time.Time `json:"timestamp"`
		EventType string    `json:"event_type"`
		Epoch     uint64    `json:"epoch"`
		Payload   Event     `json:"payload"`
	}{
		Sequence:  e.Sequence,
		CommandID: e.CommandID,
		Timestamp: e.Timestamp,
		EventType: e.Event.EventType().String(),
		Epoch:     e.Event.Epoch(),
		Payload:   e.Event,
	})
}
