// Package queue defines the reception event payloads exchanged over the
// message broker and the audit consumer that records them.
package queue

import "time"

// EventsQueue is the durable queue every reception event is published to.
const EventsQueue = "reception.events"

// Event types.
const (
	EventCheckedIn = "reception.checked_in"
	EventQueued    = "game.queued"
	EventStarted   = "game.started"
	EventStopped   = "game.stopped"
	EventReset     = "game.reset"
	EventCancelled = "reservation.cancelled"
	EventBooked    = "reservation.booked"
)

// ReceptionEvent describes a state change of a reservation or game session.
// It carries enough detail for the staff display and audit log to act
// without querying the primary database.
type ReceptionEvent struct {
	Type           string     `json:"type"`
	ReservationID  uint64     `json:"reservation_id,omitempty"`
	SessionID      int64      `json:"session_id,omitempty"`
	DisplayName    string     `json:"display_name,omitempty"`
	Difficulty     string     `json:"difficulty,omitempty"`
	PartySize      int        `json:"party_size,omitempty"`
	SlotTime       *time.Time `json:"slot_time,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ElapsedSeconds *int       `json:"elapsed_seconds,omitempty"`
	Outcome        string     `json:"outcome,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}
