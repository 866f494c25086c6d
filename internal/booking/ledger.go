// Package booking admits reservations into time slots without ever letting
// a slot's headcount exceed the room capacity.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/escape-reception/internal/model"
	"github.com/iliyamo/escape-reception/internal/repository"
)

// DefaultMaxGroupSize is the room capacity when none is configured.
const DefaultMaxGroupSize = 8

// Store is the persistence the ledger needs.
type Store interface {
	InSlotTx(ctx context.Context, slot time.Time, fn func(repository.SlotTx) error) error
	SlotUsage(ctx context.Context, slot time.Time, policy model.CapacityPolicy) (int, error)
}

// Availability is the capacity view of one slot.
type Availability struct {
	Available bool `json:"available"`
	Remaining int  `json:"remaining"`
	Max       int  `json:"max"`
}

// Ledger checks and reserves slot capacity.
type Ledger struct {
	store  Store
	max    int
	policy model.CapacityPolicy
	log    *slog.Logger
}

// NewLedger returns a Ledger admitting at most max guests per slot, counting
// occupancy under policy.
func NewLedger(store Store, max int, policy model.CapacityPolicy, log *slog.Logger) *Ledger {
	if max <= 0 {
		max = DefaultMaxGroupSize
	}
	if policy == "" {
		policy = model.PolicyBooked
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{store: store, max: max, policy: policy, log: log}
}

// Max returns the configured room capacity.
func (l *Ledger) Max() int { return l.max }

// Policy returns the configured occupancy policy.
func (l *Ledger) Policy() model.CapacityPolicy { return l.policy }

// RemainingCapacity reports how many more guests slot can take.
func (l *Ledger) RemainingCapacity(ctx context.Context, slot time.Time) (Availability, error) {
	used, err := l.store.SlotUsage(ctx, slot.UTC(), l.policy)
	if err != nil {
		return Availability{}, fmt.Errorf("slot usage: %w", err)
	}
	remaining := l.remaining(used)
	return Availability{Available: remaining > 0, Remaining: remaining, Max: l.max}, nil
}

// Reserve books partySize guests into slot.  Usage is re-read and the row
// inserted while the slot is locked, so concurrent calls can never admit
// more than Max guests in total.  A full slot yields *CapacityError.
func (l *Ledger) Reserve(ctx context.Context, slot time.Time, partySize int) (*model.Reservation, error) {
	if partySize < 1 || partySize > l.max {
		return nil, fmt.Errorf("%w: %d (allowed 1-%d)", ErrInvalidPartySize, partySize, l.max)
	}
	slot = slot.UTC().Truncate(time.Minute)

	var created *model.Reservation
	err := l.store.InSlotTx(ctx, slot, func(tx repository.SlotTx) error {
		used, err := tx.SlotUsage(ctx, slot, l.policy)
		if err != nil {
			return fmt.Errorf("slot usage: %w", err)
		}
		if used+partySize > l.max {
			return &CapacityError{Remaining: l.remaining(used), Max: l.max}
		}
		r := &model.Reservation{SlotTime: slot, PartySize: partySize, Difficulty: model.DifficultyEasy}
		if err := tx.CreateReservation(ctx, r); err != nil {
			return fmt.Errorf("create reservation: %w", err)
		}
		created = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.log.InfoContext(ctx, "reservation booked",
		slog.Uint64("reservation_id", created.ID),
		slog.Time("slot", slot),
		slog.Int("party_size", partySize))
	return created, nil
}

func (l *Ledger) remaining(used int) int {
	if r := l.max - used; r > 0 {
		return r
	}
	return 0
}
