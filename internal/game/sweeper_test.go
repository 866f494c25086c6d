package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/escape-reception/internal/model"
)

func TestSweepRetiresAtCeilingWithinOneTick(t *testing.T) {
	f := newFixture(t)
	f.arrived(t, 7, "")
	f.arrived(t, 8, "")
	_, err := f.ctrl.Start(f.ctx, 7)
	require.NoError(t, err)
	f.clock.Advance(30 * time.Second)
	_, err = f.ctrl.Start(f.ctx, 8)
	require.NoError(t, err)

	f.clock.Advance(569 * time.Second) // 7 at 599s
	stopped, err := f.ctrl.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, stopped)

	f.clock.Advance(time.Second) // one tick later: 7 at 600s
	stopped, err = f.ctrl.Sweep(f.ctx)
	require.NoError(t, err)
	require.Len(t, stopped, 1)
	assert.Equal(t, uint64(7), stopped[0].ParticipantID)
	assert.Equal(t, model.OutcomeRetired, stopped[0].Outcome)
	assert.GreaterOrEqual(t, *stopped[0].ElapsedSeconds, 600)

	r, err := f.store.Get(f.ctx, 7)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, *r.ElapsedSeconds, 600)

	s8, ok := f.ctrl.Registry().Session(8)
	require.True(t, ok)
	assert.True(t, s8.Active())
	assert.Equal(t, 30*time.Second, f.ctrl.Remaining(s8))
}

func TestSweepRetriesFailedStops(t *testing.T) {
	f := newFixture(t)
	f.arrived(t, 7, "")
	_, err := f.ctrl.Start(f.ctx, 7)
	require.NoError(t, err)

	flaky := &flakyStore{Store: f.store, failStops: 1}
	ctrl := f.newController(flaky)
	f.clock.Advance(DefaultCeiling + time.Second)

	stopped, err := ctrl.Sweep(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, stopped)
	running, err := f.store.ListRunning(f.ctx)
	require.NoError(t, err)
	assert.Len(t, running, 1)

	f.clock.Advance(time.Second)
	stopped, err = ctrl.Sweep(f.ctx)
	require.NoError(t, err)
	require.Len(t, stopped, 1)
	assert.Equal(t, 602, *stopped[0].ElapsedSeconds)
}
