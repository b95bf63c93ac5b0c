package session_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/rev-voice/backend/internal/service/session"
)

func TestRegistryCreateGetRemove(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)

	s, err := reg.Create("conn-1")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, session.PhaseIdle, s.Phase())
	assert.Equal(t, "conn-1", s.Owner())

	got, err := reg.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)

	closes := 0
	s.OnClose(func(*session.Session, string) { closes++ })

	assert.True(t, reg.Remove(s.ID(), session.ReasonClientEnded))
	assert.False(t, reg.Remove(s.ID(), session.ReasonClientEnded))
	assert.Equal(t, 1, closes)

	_, err = reg.Get(s.ID())
	require.ErrorIs(t, err, session.ErrSessionNotFound)
	require.ErrorIs(t, s.StartListening(), session.ErrSessionNotFound)
}

func TestRegistryGetOwned(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)

	_, err = reg.GetOwned(s.ID(), "conn-2")
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	got, err := reg.GetOwned(s.ID(), "conn-1")
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestRegistryRetriesIDCollisions(t *testing.T) {
	ids := []string{"dup", "dup", "fresh"}
	next := 0
	reg := session.NewRegistry(session.Options{NewID: func() string {
		id := ids[next]
		next++
		return id
	}})

	first, err := reg.Create("a")
	require.NoError(t, err)
	second, err := reg.Create("b")
	require.NoError(t, err)

	assert.Equal(t, "dup", first.ID())
	assert.Equal(t, "fresh", second.ID())
}

func TestRegistryCreateFailsWhenIDsExhausted(t *testing.T) {
	reg := session.NewRegistry(session.Options{NewID: func() string { return "same" }})
	_, err := reg.Create("a")
	require.NoError(t, err)

	_, err = reg.Create("b")
	require.Error(t, err)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryConcurrentCreateRemove(t *testing.T) {
	reg := session.NewRegistry(session.Options{})

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := reg.Create(fmt.Sprintf("conn-%d", i))
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if _, err := reg.Get(s.ID()); err != nil {
				t.Errorf("get: %v", err)
			}
			reg.Remove(s.ID(), session.ReasonDisconnected)
			reg.Remove(s.ID(), session.ReasonDisconnected)
		}(i)
	}
	wg.Wait()

	assert.Zero(t, reg.Len())
}

func TestRegistryReapIdleSessions(t *testing.T) {
	reg, clock := newTestRegistry(t, 0)
	stale, err := reg.Create("conn-1")
	require.NoError(t, err)
	fresh, err := reg.Create("conn-2")
	require.NoError(t, err)

	var reasons []string
	stale.OnClose(func(_ *session.Session, reason string) { reasons = append(reasons, reason) })

	clock.Advance(90 * time.Second)
	require.NoError(t, reg.Touch(fresh.ID()))
	clock.Advance(30 * time.Second)

	reaped := reg.Reap(2 * time.Minute)

	assert.Equal(t, []string{stale.ID()}, reaped)
	assert.Equal(t, []string{session.ReasonIdleTimeout}, reasons)
	assert.Equal(t, 1, reg.Len())
	_, err = reg.Get(fresh.ID())
	require.NoError(t, err)
}

func TestRegistryReapSparesSessionTouchedAfterScan(t *testing.T) {
	reg, clock := newTestRegistry(t, 0)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)

	clock.Advance(3 * time.Minute)
	cutoff := clock.Now().Add(-2 * time.Minute)
	require.NoError(t, reg.Touch(s.ID()))

	assert.False(t, reg.RemoveIfIdle(s.ID(), cutoff))
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, session.PhaseIdle, s.Phase())

	clock.Advance(3 * time.Minute)
	assert.True(t, reg.RemoveIfIdle(s.ID(), clock.Now().Add(-2*time.Minute)))
	assert.Zero(t, reg.Len())
	assert.False(t, reg.RemoveIfIdle(s.ID(), clock.Now()))
}

func TestRegistryCloseAll(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)
	for i := 0; i < 3; i++ {
		_, err := reg.Create("conn")
		require.NoError(t, err)
	}
	assert.Len(t, reg.List(), 3)

	assert.Equal(t, 3, reg.CloseAll(session.ReasonShutdown))
	assert.Zero(t, reg.Len())
}
