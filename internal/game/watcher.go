package game

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/iliyamo/escape-reception/internal/model"
	"github.com/iliyamo/escape-reception/internal/queue"
)

// ReceptionLister lists checked-in reservations.
type ReceptionLister interface {
	ListActiveReceptions(ctx context.Context) ([]*model.Reservation, error)
}

// CheckInWatcher polls for newly checked-in reservations and publishes a
// reception.checked_in event for each one.  The first poll only records
// what is already checked in, so a restarted watcher does not replay old
// arrivals.
type CheckInWatcher struct {
	lister   ReceptionLister
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	seen   map[uint64]struct{}
	primed bool
}

// NewCheckInWatcher returns a watcher publishing through notifier.
func NewCheckInWatcher(lister ReceptionLister, notifier Notifier, log *slog.Logger) *CheckInWatcher {
	if log == nil {
		log = slog.Default()
	}
	return &CheckInWatcher{
		lister:   lister,
		notifier: notifier,
		log:      log,
		now:      time.Now,
		seen:     map[uint64]struct{}{},
	}
}

// Poll runs one detection pass and returns the newly checked-in
// reservations.  Reservations that drop out of the active list are
// forgotten, so a later check-in of the same id is reported again.
func (w *CheckInWatcher) Poll(ctx context.Context) ([]*model.Reservation, error) {
	active, err := w.lister.ListActiveReceptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list receptions: %w", err)
	}

	w.mu.Lock()
	current := make(map[uint64]struct{}, len(active))
	var fresh []*model.Reservation
	for _, r := range active {
		current[r.ID] = struct{}{}
		if _, ok := w.seen[r.ID]; !ok && w.primed {
			fresh = append(fresh, r)
		}
	}
	w.seen = current
	w.primed = true
	w.mu.Unlock()

	for _, r := range fresh {
		w.publish(ctx, r)
	}
	return fresh, nil
}

func (w *CheckInWatcher) publish(ctx context.Context, r *model.Reservation) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Publish(ctx, eventFor(queue.EventCheckedIn, r, nil, w.now().UTC())); err != nil {
		w.log.WarnContext(ctx, "publish check-in failed",
			slog.Uint64("reservation_id", r.ID), slog.Any("err", err))
	}
}
