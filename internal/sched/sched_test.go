package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermesbot/hermes/internal/transport"
)

func newTestScheduler() *Scheduler {
	return New(func() Deps {
		return Deps{Client: transport.NewFakeClient()}
	})
}

func noop(context.Context, Deps) {}

func TestRegisterCancelRegister(t *testing.T) {
	s := newTestScheduler()
	defer s.StopAll()

	require.True(t, s.Register("lec_42", "0 10 * * 1", "Africa/Lagos", noop))
	require.True(t, s.Cancel("lec_42"))
	require.True(t, s.Register("lec_42", "0 10 * * 1", "Africa/Lagos", noop))

	assert.Equal(t, 1, s.Len(), "exactly one live job with the id")
}

func TestRegisterReplacesSameID(t *testing.T) {
	s := newTestScheduler()
	defer s.StopAll()

	require.True(t, s.Register("j1", "0 8 * * *", "UTC", noop))
	require.True(t, s.Register("j1", "0 9 * * *", "UTC", noop))

	jobs := s.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, "0 9 * * *", jobs[0].Expression)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	s := newTestScheduler()
	defer s.StopAll()

	assert.False(t, s.Register("bad-tz", "0 10 * * 1", "Mars/Olympus", noop))
	assert.False(t, s.Register("bad-expr", "not a cron line", "UTC", noop))
	assert.Equal(t, 0, s.Len())
}

func TestCancelUnknown(t *testing.T) {
	s := newTestScheduler()
	assert.False(t, s.Cancel("ghost"))
}

func TestListReportsNextFire(t *testing.T) {
	s := newTestScheduler()
	defer s.StopAll()

	require.True(t, s.Register("weekly", "0 10 * * 1", "Africa/Lagos", noop))

	jobs := s.List()
	require.Len(t, jobs, 1)
	assert.Equal(t, "weekly", jobs[0].ID)
	assert.Equal(t, "Africa/Lagos", jobs[0].Timezone)
	assert.False(t, jobs[0].NextFire.IsZero())
	assert.True(t, jobs[0].NextFire.After(time.Now()))

	loc, err := time.LoadLocation("Africa/Lagos")
	require.NoError(t, err)
	next := jobs[0].NextFire.In(loc)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 10, next.Hour())
}

func TestStopAllClearsTable(t *testing.T) {
	s := newTestScheduler()
	require.True(t, s.Register("a", "0 8 * * *", "UTC", noop))
	require.True(t, s.Register("b", "0 9 * * *", "UTC", noop))

	s.StopAll()
	assert.Equal(t, 0, s.Len())
}
