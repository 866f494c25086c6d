package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/escape-reception/internal/model"
	"github.com/iliyamo/escape-reception/internal/queue"
	"github.com/iliyamo/escape-reception/internal/repository"
	"github.com/iliyamo/escape-reception/internal/token"
)

func TestCheckInIsIdempotentUnderSameName(t *testing.T) {
	f := newFixture(t)
	r := f.booked(t, 3, 2)
	tok := f.auth.TokenFor(r)

	first, err := f.ctrl.CheckIn(f.ctx, 3, tok, "Aki")
	require.NoError(t, err)
	assert.False(t, first.AlreadyCheckedIn)
	assert.Equal(t, "Aki", first.Reservation.Name())

	again, err := f.ctrl.CheckIn(f.ctx, 3, tok, "Aki")
	require.NoError(t, err)
	assert.True(t, again.AlreadyCheckedIn)

	renamed, err := f.ctrl.CheckIn(f.ctx, 3, tok, "Mio")
	require.NoError(t, err)
	assert.False(t, renamed.AlreadyCheckedIn)
	assert.Equal(t, "Mio", renamed.Reservation.Name())
}

func TestCheckInRejectsBadTokenUnknownIdAndCancelled(t *testing.T) {
	f := newFixture(t)
	r := f.booked(t, 3, 2)

	_, err := f.ctrl.CheckIn(f.ctx, 3, "forged", "Aki")
	assert.ErrorIs(t, err, token.ErrInvalidToken)

	_, err = f.ctrl.CheckIn(f.ctx, 99, f.auth.TokenFor(r), "Aki")
	assert.ErrorIs(t, err, repository.ErrReservationNotFound)

	require.NoError(t, f.store.Cancel(f.ctx, 3))
	_, err = f.ctrl.CheckIn(f.ctx, 3, f.auth.TokenFor(r), "Aki")
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestEnqueueConflicts(t *testing.T) {
	f := newFixture(t)
	f.booked(t, 1, 2)
	r1, _ := f.store.Get(f.ctx, 1)
	_, err := f.ctrl.Enqueue(f.ctx, 1, f.auth.TokenFor(r1))
	assert.ErrorIs(t, err, ErrNotCheckedIn)

	r := f.arrived(t, 7, "Team Seven")
	tok := f.auth.TokenFor(r)
	_, err = f.ctrl.Enqueue(f.ctx, 7, "bad")
	assert.ErrorIs(t, err, token.ErrInvalidToken)

	_, err = f.ctrl.Enqueue(f.ctx, 7, tok)
	require.NoError(t, err)
	_, err = f.ctrl.Enqueue(f.ctx, 7, tok)
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	_, err = f.ctrl.Start(f.ctx, 7)
	require.NoError(t, err)
	_, err = f.ctrl.Enqueue(f.ctx, 7, tok)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.True(t, IsStateConflict(err))

	f.clock.Advance(time.Minute)
	_, err = f.ctrl.Stop(f.ctx, 7, nil)
	require.NoError(t, err)
	_, err = f.ctrl.Enqueue(f.ctx, 7, tok)
	assert.ErrorIs(t, err, ErrAlreadyFinished)
}

func TestStartTwiceReturnsSameSession(t *testing.T) {
	f := newFixture(t)
	f.arrived(t, 7, "Team Seven")

	first, err := f.ctrl.Start(f.ctx, 7)
	require.NoError(t, err)
	f.clock.Advance(3 * time.Second)
	second, err := f.ctrl.Start(f.ctx, 7)
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, second.SessionID)
	assert.True(t, first.StartedAt.Equal(second.StartedAt))
	assert.Equal(t, model.SessionRunning, second.Status)

	r, err := f.store.Get(f.ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, r.GameStartedAt.UnixMilli())
	assert.Equal(t, []string{queue.EventStarted}, filter(f.notes.types(), queue.EventStarted))
}

func TestStartRequiresCheckInAndRejectsFinished(t *testing.T) {
	f := newFixture(t)
	f.booked(t, 2, 2)
	_, err := f.ctrl.Start(f.ctx, 2)
	assert.ErrorIs(t, err, ErrNotCheckedIn)

	f.arrived(t, 7, "x")
	_, err = f.ctrl.Start(f.ctx, 7)
	require.NoError(t, err)
	_, err = f.ctrl.Stop(f.ctx, 7, nil)
	require.NoError(t, err)
	_, err = f.ctrl.Start(f.ctx, 7)
	assert.ErrorIs(t, err, ErrAlreadyFinished)

	_, err = f.ctrl.Start(f.ctx, 404)
	assert.ErrorIs(t, err, repository.ErrReservationNotFound)
}

func TestStopIgnoresForgedClientElapsed(t *testing.T) {
	f := newFixture(t)
	f.arrived(t, 7, "Team Seven")
	_, err := f.ctrl.Start(f.ctx, 7)
	require.NoError(t, err)

	f.clock.Advance(95*time.Second + 400*time.Millisecond)
	s, err := f.ctrl.Stop(f.ctx, 7, intp(5))
	require.NoError(t, err)
	require.NotNil(t, s.ElapsedSeconds)
	assert.Equal(t, 95, *s.ElapsedSeconds)
	assert.Equal(t, model.OutcomeCompleted, s.Outcome)

	r, err := f.store.Get(f.ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 95, *r.ElapsedSeconds)
}

func TestStopIsIdempotentAndRequiresStart(t *testing.T) {
	f := newFixture(t)
	f.arrived(t, 7, "x")
	_, err := f.ctrl.Stop(f.ctx, 7, nil)
	assert.ErrorIs(t, err, ErrNotRunning)

	_, err = f.ctrl.Start(f.ctx, 7)
	require.NoError(t, err)
	f.clock.Advance(30 * time.Second)
	first, err := f.ctrl.Stop(f.ctx, 7, nil)
	require.NoError(t, err)
	f.clock.Advance(30 * time.Second)
	second, err := f.ctrl.Stop(f.ctx, 7, nil)
	require.NoError(t, err)
	assert.Equal(t, *first.ElapsedSeconds, *second.ElapsedSeconds)
	assert.Equal(t, 30, *second.ElapsedSeconds)
}

func TestBatchStartSharesOriginAndStopsIndividually(t *testing.T) {
	f := newFixture(t)
	for _, id := range []uint64{7, 8, 9} {
		f.arrived(t, id, "")
		f.queued(t, id)
	}
	res, err := f.ctrl.StartQueued(f.ctx)
	require.NoError(t, err)
	require.Len(t, res.Started, 3)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []uint64{7, 8, 9}, []uint64{res.Started[0].ParticipantID, res.Started[1].ParticipantID, res.Started[2].ParticipantID})
	assert.Empty(t, f.ctrl.Registry().Queued())

	origin := f.ctrl.Registry().Origin()
	require.NotNil(t, origin)
	assert.True(t, res.Origin.Equal(*origin))

	f.clock.Advance(42 * time.Second)
	s, err := f.ctrl.Stop(f.ctx, 7, intp(40))
	require.NoError(t, err)
	assert.InDelta(t, 42, *s.ElapsedSeconds, 1)

	r, err := f.store.Get(f.ctx, 7)
	require.NoError(t, err)
	assert.InDelta(t, 42, *r.ElapsedSeconds, 1)

	state, err := f.ctrl.State(f.ctx)
	require.NoError(t, err)
	running := 0
	for _, s := range state.Sessions {
		if s.Active() {
			running++
		}
	}
	assert.Equal(t, 2, running)
}

func TestStartQueuedOnEmptyQueue(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.StartQueued(f.ctx)
	assert.ErrorIs(t, err, ErrEmptyQueue)
}

func TestSetQueueDifficulty(t *testing.T) {
	f := newFixture(t)
	f.arrived(t, 1, "")
	f.arrived(t, 2, "")
	f.queued(t, 1)
	f.queued(t, 2)

	n, err := f.ctrl.SetQueueDifficulty(f.ctx, model.DifficultyHard)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for _, id := range []uint64{1, 2} {
		r, err := f.store.Get(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.DifficultyHard, r.Difficulty)
	}
}

func TestRestartReconstructsRunningSessions(t *testing.T) {
	f := newFixture(t)
	f.arrived(t, 7, "Team Seven")
	started, err := f.ctrl.Start(f.ctx, 7)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	// A fresh controller over the same store stands in for a restart.
	restarted := f.newController(f.store)
	require.NoError(t, restarted.Reconcile(f.ctx))

	s, ok := restarted.Registry().Session(7)
	require.True(t, ok)
	assert.True(t, s.Active())
	assert.True(t, started.StartedAt.Equal(s.StartedAt))
	assert.Equal(t, started.SessionID, s.SessionID)
	assert.True(t, started.StartedAt.Equal(*restarted.Registry().Origin()))

	active, err := restarted.ListActiveReceptions(f.ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, uint64(7), active[0].ID)
	assert.True(t, started.StartedAt.Equal(*active[0].GameStartedAt))

	again, err := restarted.Start(f.ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, started.SessionID, again.SessionID)
}

func TestResetClearsMemoryOnly(t *testing.T) {
	f := newFixture(t)
	f.arrived(t, 1, "")
	f.arrived(t, 2, "")
	f.arrived(t, 3, "")
	_, err := f.ctrl.Start(f.ctx, 1)
	require.NoError(t, err)
	_, err = f.ctrl.Start(f.ctx, 2)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)
	_, err = f.ctrl.Stop(f.ctx, 2, nil)
	require.NoError(t, err)
	f.queued(t, 3)

	f.ctrl.Reset(f.ctx)
	assert.Empty(t, f.ctrl.Registry().Queued())
	assert.Empty(t, f.ctrl.Registry().Sessions())
	assert.Nil(t, f.ctrl.Registry().Origin())

	r2, err := f.store.Get(f.ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 10, *r2.ElapsedSeconds)

	// The still-running game comes back on the next snapshot.
	state, err := f.ctrl.State(f.ctx)
	require.NoError(t, err)
	require.Len(t, state.Sessions, 1)
	assert.Equal(t, uint64(1), state.Sessions[0].ParticipantID)
	assert.Contains(t, f.notes.types(), queue.EventReset)
}

func TestStopAllAndClearScan(t *testing.T) {
	f := newFixture(t)
	for _, id := range []uint64{1, 2} {
		f.arrived(t, id, "")
		_, err := f.ctrl.Start(f.ctx, id)
		require.NoError(t, err)
	}
	f.clock.Advance(61 * time.Second)

	res, err := f.ctrl.Scan(f.ctx, " CLEAR ")
	require.NoError(t, err)
	assert.Equal(t, "stop_all", res.Action)
	assert.Len(t, res.Stopped, 2)
	for _, s := range res.Stopped {
		assert.Equal(t, 61, *s.ElapsedSeconds)
	}
	running, err := f.store.ListRunning(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestScanEnqueuesFromCheckURL(t *testing.T) {
	f := newFixture(t)
	r := f.arrived(t, 5, "")
	url := token.CheckURL("https://escape.example", 5, f.auth.TokenFor(r))

	res, err := f.ctrl.Scan(f.ctx, url)
	require.NoError(t, err)
	assert.Equal(t, "queued", res.Action)
	require.NotNil(t, res.Entry)
	assert.Equal(t, uint64(5), res.Entry.ID)

	_, err = f.ctrl.Scan(f.ctx, url)
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	_, err = f.ctrl.Scan(f.ctx, "hello")
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestParseCheckPayload(t *testing.T) {
	id, tok, err := ParseCheckPayload("https://x.example/check-id?id=12&token=abc")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), id)
	assert.Equal(t, "abc", tok)

	id, tok, err = ParseCheckPayload("id=3&token=zz")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)
	assert.Equal(t, "zz", tok)

	_, _, err = ParseCheckPayload("https://x.example/check-id?id=12")
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestPreStartTokenExpiresAfterStart(t *testing.T) {
	f := newFixture(t)
	r := f.arrived(t, 7, "")
	before := f.auth.TokenFor(r)

	_, err := f.ctrl.Start(f.ctx, 7)
	require.NoError(t, err)

	_, err = f.auth.Verify(f.ctx, f.store, 7, before)
	assert.ErrorIs(t, err, token.ErrInvalidToken)

	started, err := f.store.Get(f.ctx, 7)
	require.NoError(t, err)
	_, err = f.auth.Verify(f.ctx, f.store, 7, f.auth.TokenFor(started))
	assert.NoError(t, err)
}

type flakyStore struct {
	Store
	failStops int
}

func (s *flakyStore) MarkStopped(ctx context.Context, id uint64, elapsed int) (bool, error) {
	if s.failStops > 0 {
		s.failStops--
		return false, errors.New("write timeout")
	}
	return s.Store.MarkStopped(ctx, id, elapsed)
}

func filter(in []string, want string) []string {
	var out []string
	for _, s := range in {
		if s == want {
			out = append(out, s)
		}
	}
	return out
}
