package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/rev-voice/backend/internal/service/session"
)

func speakingSession(t *testing.T, playback time.Duration) (*session.Session, *session.Registry, *recorder, func(time.Duration)) {
	t.Helper()
	reg, clock := newTestRegistry(t, 0)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)
	require.NoError(t, s.StartListening())
	require.NoError(t, session.NewAccumulator(reg).Append(s.ID(), session.AudioFragment{Data: []byte("pcm")}))

	turn, err := s.EndListening(time.Minute)
	require.NoError(t, err)

	rec := &recorder{}
	err = s.Speak(turn, session.TurnResult{Reply: "hi", Duration: playback},
		func(session.TurnResult) { rec.add("audio-response") },
		func(session.TurnResult) { rec.add("turn-complete") })
	require.NoError(t, err)
	require.Equal(t, session.PhaseSpeaking, s.Phase())
	return s, reg, rec, clock.Advance
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestSessionPlaybackCompletes(t *testing.T) {
	s, _, rec, advance := speakingSession(t, 800*time.Millisecond)

	advance(799 * time.Millisecond)
	assert.Equal(t, []string{"audio-response"}, rec.list())
	assert.Equal(t, session.PhaseSpeaking, s.Phase())

	advance(time.Millisecond)
	assert.Equal(t, []string{"audio-response", "turn-complete"}, rec.list())
	assert.Equal(t, session.PhaseIdle, s.Phase())
}

func TestSessionInterruptCancelsPlayback(t *testing.T) {
	s, _, rec, advance := speakingSession(t, 800*time.Millisecond)

	advance(200 * time.Millisecond)
	require.NoError(t, s.Interrupt(func() { rec.add("interrupted") }))
	assert.Equal(t, session.PhaseIdle, s.Phase())

	advance(time.Second)
	assert.Equal(t, []string{"audio-response", "interrupted"}, rec.list())
}

func TestSessionInterruptAfterPlaybackIsInvalid(t *testing.T) {
	s, _, rec, advance := speakingSession(t, 100*time.Millisecond)

	advance(100 * time.Millisecond)
	err := s.Interrupt(func() { rec.add("interrupted") })

	require.ErrorIs(t, err, session.ErrInvalidTransition)
	assert.Equal(t, []string{"audio-response", "turn-complete"}, rec.list())
}

func TestSessionInterruptRacesPlaybackExactlyOnce(t *testing.T) {
	for i := 0; i < 200; i++ {
		reg := session.NewRegistry(session.Options{})
		s, err := reg.Create("conn")
		require.NoError(t, err)
		require.NoError(t, s.StartListening())
		require.NoError(t, session.NewAccumulator(reg).Append(s.ID(), session.AudioFragment{Data: []byte{1}}))
		turn, err := s.EndListening(time.Minute)
		require.NoError(t, err)

		rec := &recorder{}
		done := make(chan struct{})
		var once sync.Once
		finish := func() { once.Do(func() { close(done) }) }

		require.NoError(t, s.Speak(turn, session.TurnResult{Duration: time.Microsecond}, nil,
			func(session.TurnResult) { rec.add("turn-complete"); finish() }))

		if err := s.Interrupt(func() { rec.add("interrupted") }); err == nil {
			finish()
		}

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: neither interrupted nor turn-complete", i)
		}
		// Give a stale timer a chance to fire before counting.
		time.Sleep(time.Millisecond)
		require.Len(t, rec.list(), 1, "iteration %d: %v", i, rec.list())
		reg.CloseAll(session.ReasonShutdown)
	}
}

func TestSessionEndListeningWhileIdle(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)

	_, err = s.EndListening(time.Second)
	require.ErrorIs(t, err, session.ErrEmptyUtterance)
	assert.Equal(t, session.PhaseIdle, s.Phase())
}

func TestSessionEndListeningWithoutAudio(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)
	require.NoError(t, s.StartListening())

	_, err = s.EndListening(time.Second)
	require.ErrorIs(t, err, session.ErrEmptyUtterance)
	assert.Equal(t, session.PhaseIdle, s.Phase())

	require.NoError(t, s.StartListening(), "session stays usable")
}

func TestSessionEndListeningWhileThinking(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)
	require.NoError(t, s.StartListening())
	require.NoError(t, session.NewAccumulator(reg).Append(s.ID(), session.AudioFragment{Data: []byte("a")}))
	_, err = s.EndListening(time.Second)
	require.NoError(t, err)

	_, err = s.EndListening(time.Second)
	require.ErrorIs(t, err, session.ErrInvalidTransition)
	assert.Equal(t, session.PhaseThinking, s.Phase())
}

func TestSessionFailReturnsToIdle(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)
	require.NoError(t, s.StartListening())
	require.NoError(t, session.NewAccumulator(reg).Append(s.ID(), session.AudioFragment{Data: []byte("a")}))
	turn, err := s.EndListening(time.Second)
	require.NoError(t, err)

	failed := false
	require.NoError(t, s.Fail(turn, func() { failed = true }))
	assert.True(t, failed)
	assert.Equal(t, session.PhaseIdle, s.Phase())
	assert.ErrorIs(t, turn.Ctx.Err(), context.Canceled)

	require.ErrorIs(t, s.Fail(turn, nil), session.ErrTurnAbandoned)
}

func TestSessionDiscardsResultsAfterClose(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)
	require.NoError(t, s.StartListening())
	require.NoError(t, session.NewAccumulator(reg).Append(s.ID(), session.AudioFragment{Data: []byte("a")}))
	turn, err := s.EndListening(time.Minute)
	require.NoError(t, err)

	var reason string
	s.OnClose(func(_ *session.Session, r string) { reason = r })
	require.True(t, reg.Remove(s.ID(), session.ReasonDisconnected))

	assert.Equal(t, session.ReasonDisconnected, reason)
	assert.True(t, errors.Is(turn.Ctx.Err(), context.Canceled))

	called := false
	err = s.Speak(turn, session.TurnResult{Duration: time.Second}, func(session.TurnResult) { called = true }, nil)
	require.ErrorIs(t, err, session.ErrTurnAbandoned)
	require.ErrorIs(t, s.Apply(turn, func() { called = true }), session.ErrTurnAbandoned)
	assert.False(t, called)
	assert.Equal(t, session.PhaseClosed, s.Phase())
}

func TestSessionCloseCancelsPlaybackTimer(t *testing.T) {
	s, reg, rec, advance := speakingSession(t, time.Second)

	reg.Remove(s.ID(), session.ReasonDisconnected)
	advance(2 * time.Second)

	assert.Equal(t, []string{"audio-response"}, rec.list())
}

func TestSessionTouchUpdatesLastActivity(t *testing.T) {
	reg, clock := newTestRegistry(t, 0)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)
	created := s.LastActivity()

	clock.Advance(5 * time.Second)
	require.NoError(t, reg.Touch(s.ID()))

	assert.Equal(t, created.Add(5*time.Second), s.LastActivity())
	assert.Equal(t, session.PhaseIdle, s.Phase())
}

func TestSessionOnCloseAfterCloseRunsImmediately(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)
	require.True(t, reg.Remove(s.ID(), session.ReasonShutdown))

	var reasons []string
	s.OnClose(func(_ *session.Session, reason string) { reasons = append(reasons, reason) })
	assert.Equal(t, []string{session.ReasonShutdown}, reasons)

	assert.False(t, reg.Remove(s.ID(), session.ReasonShutdown))
	assert.Len(t, reasons, 1)
}
