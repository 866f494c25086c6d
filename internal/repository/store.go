package repository

import (
	"context"
	"time"

	"github.com/iliyamo/escape-reception/internal/model"
)

// SlotTx is the view of the store available inside a serialized slot
// transaction.  Every read and write made through it happens while the
// slot is locked against concurrent bookings.
type SlotTx interface {
	// SlotUsage sums party_size over reservations at slot that count toward
	// capacity under policy.
	SlotUsage(ctx context.Context, slot time.Time, policy model.CapacityPolicy) (int, error)
	// CreateReservation inserts r and fills in its id and timestamps.
	CreateReservation(ctx context.Context, r *model.Reservation) error
}

// ReservationStore is the full persistence contract for reservations.
// Consumers normally depend on a narrower interface of their own.
type ReservationStore interface {
	InSlotTx(ctx context.Context, slot time.Time, fn func(SlotTx) error) error
	SlotUsage(ctx context.Context, slot time.Time, policy model.CapacityPolicy) (int, error)
	Get(ctx context.Context, id uint64) (*model.Reservation, error)
	CheckIn(ctx context.Context, id uint64, name string) (already bool, err error)
	SetCheckedIn(ctx context.Context, id uint64, checked bool) error
	MarkStarted(ctx context.Context, id uint64, at time.Time) (bool, error)
	MarkStopped(ctx context.Context, id uint64, elapsedSeconds int) (bool, error)
	SetDifficulty(ctx context.Context, id uint64, d model.Difficulty) error
	Cancel(ctx context.Context, id uint64) error
	Delete(ctx context.Context, id uint64) error
	ListRunning(ctx context.Context) ([]*model.Reservation, error)
	ListActiveReceptions(ctx context.Context) ([]*model.Reservation, error)
	Ranking(ctx context.Context, tier model.Difficulty, limit, maxElapsed int) ([]model.RankingEntry, error)
}

var (
	_ ReservationStore = (*ReservationRepo)(nil)
	_ ReservationStore = (*MemoryStore)(nil)
)
