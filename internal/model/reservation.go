package model

import (
	"strings"
	"time"
)

// Difficulty is the room variant a group plays.  The leaderboard is kept
// separately per difficulty.
type Difficulty string

const (
	DifficultyEasy Difficulty = "EASY"
	DifficultyHard Difficulty = "HARD"
)

// ParseDifficulty normalizes a user supplied tier.  The second return value
// is false for anything other than EASY or HARD.
func ParseDifficulty(raw string) (Difficulty, bool) {
	switch Difficulty(strings.ToUpper(strings.TrimSpace(raw))) {
	case DifficultyEasy:
		return DifficultyEasy, true
	case DifficultyHard:
		return DifficultyHard, true
	}
	return "", false
}

// CapacityPolicy selects which reservations count toward a slot's headcount.
type CapacityPolicy string

const (
	// PolicyBooked counts every live booking (not cancelled, not ended).
	PolicyBooked CapacityPolicy = "booked"
	// PolicyCheckedIn counts only live bookings whose guests have checked in.
	PolicyCheckedIn CapacityPolicy = "checked_in"
)

// Reservation records a guest's booking for one slot and, once the group
// plays, the outcome of its game.
//
// Fields:
//  ID             – primary key identifier.
//  SlotTime       – booked slot, UTC, minute precision.
//  PartySize      – number of guests in the group (>= 1).
//  CheckedIn      – set once the guest scanned their check-in URL.
//  Cancelled      – soft delete; cancelled rows never count toward capacity.
//  GameStartedAt  – when staff started the group's timer; immutable once set.
//  ElapsedSeconds – server computed play time, set when the game stops.
//  Difficulty     – EASY or HARD.
//  DisplayName    – name entered at check-in (nullable).
type Reservation struct {
	ID             uint64     `json:"id"`
	SlotTime       time.Time  `json:"slot_time"`
	PartySize      int        `json:"party_size"`
	CheckedIn      bool       `json:"checked_in"`
	Cancelled      bool       `json:"cancelled"`
	GameStartedAt  *time.Time `json:"game_started_at,omitempty"`
	ElapsedSeconds *int       `json:"elapsed_seconds,omitempty"`
	Difficulty     Difficulty `json:"difficulty"`
	DisplayName    *string    `json:"display_name,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// GameStarted reports whether a start timestamp has been persisted.
func (r *Reservation) GameStarted() bool { return r.GameStartedAt != nil }

// Ended reports whether the game has been stopped and its time recorded.
func (r *Reservation) Ended() bool { return r.ElapsedSeconds != nil }

// Running is true between a persisted start and a persisted stop.
func (r *Reservation) Running() bool { return r.GameStarted() && !r.Ended() }

// GameEndedAt derives the stop instant from the start and elapsed time.
func (r *Reservation) GameEndedAt() *time.Time {
	if !r.GameStarted() || !r.Ended() {
		return nil
	}
	t := r.GameStartedAt.Add(time.Duration(*r.ElapsedSeconds) * time.Second)
	return &t
}

// Name returns the display name or an empty string.
func (r *Reservation) Name() string {
	if r.DisplayName == nil {
		return ""
	}
	return *r.DisplayName
}

// CountsToward reports whether this reservation occupies capacity in its slot
// under the given policy.
func (r *Reservation) CountsToward(policy CapacityPolicy) bool {
	if r.Cancelled || r.Ended() {
		return false
	}
	if policy == PolicyCheckedIn {
		return r.CheckedIn
	}
	return true
}

// Clone returns a deep copy so callers can hand out reservations without
// sharing the nullable fields.
func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	if r.GameStartedAt != nil {
		t := *r.GameStartedAt
		c.GameStartedAt = &t
	}
	if r.ElapsedSeconds != nil {
		e := *r.ElapsedSeconds
		c.ElapsedSeconds = &e
	}
	if r.DisplayName != nil {
		n := *r.DisplayName
		c.DisplayName = &n
	}
	return &c
}

// RankingEntry is one row of the per-difficulty leaderboard.
type RankingEntry struct {
	ID             uint64    `json:"id"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
	PartySize      int       `json:"party_size"`
	DisplayName    *string   `json:"display_name,omitempty"`
	SlotTime       time.Time `json:"slot_time"`
}
