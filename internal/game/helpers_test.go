package game

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/escape-reception/internal/model"
	"github.com/iliyamo/escape-reception/internal/queue"
	"github.com/iliyamo/escape-reception/internal/repository"
	"github.com/iliyamo/escape-reception/internal/token"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 5, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []queue.ReceptionEvent
}

func (n *recordingNotifier) Publish(_ context.Context, ev queue.ReceptionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	ctx   context.Context
	clock *fakeClock
	store *repository.MemoryStore
	auth  *token.Authority
	notes *recordingNotifier
	ctrl  *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	auth, err := token.NewAuthority("test-secret", token.ModeSecure, time.Hour)
	require.NoError(t, err)
	auth.WithClock(clock.Now)
	f := &fixture{
		ctx:   context.Background(),
		clock: clock,
		store: repository.NewMemoryStore().WithClock(clock.Now),
		auth:  auth,
		notes: &recordingNotifier{},
	}
	f.ctrl = f.newController(f.store)
	return f
}

func (f *fixture) newController(store Store) *Controller {
	return NewController(store, f.auth, Options{
		Ceiling:  DefaultCeiling,
		Notifier: f.notes,
		Logger:   quiet,
		Now:      f.clock.Now,
	})
}

// booked seeds a reservation at 14:00 JST.
func (f *fixture) booked(t *testing.T, id uint64, party int) *model.Reservation {
	t.Helper()
	return f.store.Put(&model.Reservation{
		ID:        id,
		SlotTime:  time.Date(2024, 5, 1, 5, 0, 0, 0, time.UTC),
		PartySize: party,
	})
}

// arrived seeds a reservation and checks it in through the controller.
func (f *fixture) arrived(t *testing.T, id uint64, name string) *model.Reservation {
	t.Helper()
	r := f.booked(t, id, 3)
	res, err := f.ctrl.CheckIn(f.ctx, id, f.auth.TokenFor(r), name)
	require.NoError(t, err)
	require.True(t, res.Reservation.CheckedIn)
	return res.Reservation
}

func (f *fixture) queued(t *testing.T, id uint64) {
	t.Helper()
	r, err := f.store.Get(f.ctx, id)
	require.NoError(t, err)
	_, err = f.ctrl.Enqueue(f.ctx, id, f.auth.TokenFor(r))
	require.NoError(t, err)
}

func intp(v int) *int { return &v }
