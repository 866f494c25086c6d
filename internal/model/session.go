package model

import "time"

// SessionStatus is the lifecycle state of a game session.
type SessionStatus string

const (
	SessionRunning SessionStatus = "running"
	SessionStopped SessionStatus = "stopped"
)

// Outcome tells a normal finish apart from an automatic forced stop.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetired   Outcome = "retired"
)

// GameSession is the runtime projection of one group's game.  It is rebuilt
// from the reservation row whenever the process restarts, so nothing here is
// authoritative except what was persisted.
type GameSession struct {
	SessionID      int64         `json:"session_id"`
	ParticipantID  uint64        `json:"participant_id"`
	Status         SessionStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	ElapsedSeconds *int          `json:"elapsed_seconds,omitempty"`
	Outcome        Outcome       `json:"outcome,omitempty"`
	DisplayName    string        `json:"display_name,omitempty"`
	Difficulty     Difficulty    `json:"difficulty"`
	PartySize      int           `json:"party_size"`
}

// SessionIDFor derives the synthetic session id from a start instant.
func SessionIDFor(startedAt time.Time) int64 { return startedAt.UnixMilli() }

// Active reports whether the session is still running.
func (s *GameSession) Active() bool { return s.Status == SessionRunning }
