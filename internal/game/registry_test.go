package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/escape-reception/internal/model"
)

func TestRegistryQueueOrderAndDuplicates(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	require.NoError(t, r.Enqueue(3, "a", now))
	require.NoError(t, r.Enqueue(1, "b", now))
	assert.ErrorIs(t, r.Enqueue(3, "other-token", now), ErrAlreadyQueued)

	r.Admit(model.GameSession{ParticipantID: 9, StartedAt: now})
	assert.ErrorIs(t, r.Enqueue(9, "c", now), ErrAlreadyRunning)

	q := r.DrainQueue()
	require.Len(t, q, 2)
	assert.Equal(t, uint64(3), q[0].ID)
	assert.Equal(t, uint64(1), q[1].ID)
	assert.Empty(t, r.Queued())
}

func TestRegistryAdmitKeepsExistingRunningSession(t *testing.T) {
	r := NewRegistry()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := r.Admit(model.GameSession{ParticipantID: 1, SessionID: 100, StartedAt: t0})
	second := r.Admit(model.GameSession{ParticipantID: 1, SessionID: 200, StartedAt: t0.Add(time.Second)})
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.True(t, t0.Equal(*r.Origin()))

	r.Finish(model.GameSession{ParticipantID: 1, SessionID: 100, StartedAt: t0})
	assert.Empty(t, r.Running())

	r.Reset()
	assert.Empty(t, r.Sessions())
	assert.Nil(t, r.Origin())
}
