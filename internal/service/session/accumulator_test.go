package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/rev-voice/backend/internal/service/session"
	"github.com/zhouzirui/rev-voice/backend/internal/service/session/clocktest"
)

func newTestRegistry(t *testing.T, maxBytes int) (*session.Registry, *clocktest.Clock) {
	t.Helper()
	clock := clocktest.New(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
	return session.NewRegistry(session.Options{Clock: clock, MaxUtteranceBytes: maxBytes}), clock
}

func TestAccumulatorConcatenatesInArrivalOrder(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)
	acc := session.NewAccumulator(reg)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)
	require.NoError(t, s.StartListening())

	for _, chunk := range []string{"one-", "two-", "three"} {
		require.NoError(t, acc.Append(s.ID(), session.AudioFragment{Data: []byte(chunk)}))
	}
	assert.Equal(t, 3, s.BufferedFragments())

	data, err := acc.FlushAndClear(s.ID())
	require.NoError(t, err)
	assert.Equal(t, "one-two-three", string(data))
	assert.Zero(t, s.BufferedFragments())

	_, err = acc.FlushAndClear(s.ID())
	require.ErrorIs(t, err, session.ErrEmptyUtterance)
}

func TestAccumulatorUnknownSession(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)
	acc := session.NewAccumulator(reg)

	err := acc.Append("never-created", session.AudioFragment{Data: []byte("x")})
	require.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.Zero(t, reg.Len())

	_, err = acc.FlushAndClear("never-created")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestAccumulatorRequiresListening(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)
	acc := session.NewAccumulator(reg)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)

	err = acc.Append(s.ID(), session.AudioFragment{Data: []byte("x")})
	require.ErrorIs(t, err, session.ErrNoActiveSession)
	assert.Equal(t, session.PhaseIdle, s.Phase())
}

func TestAppendAfterEndListeningWithoutRestart(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)
	acc := session.NewAccumulator(reg)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)
	require.NoError(t, s.StartListening())
	require.NoError(t, acc.Append(s.ID(), session.AudioFragment{Data: []byte("x")}))

	turn, err := s.EndListening(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "x", string(turn.Audio))

	err = acc.Append(s.ID(), session.AudioFragment{Data: []byte("y")})
	require.ErrorIs(t, err, session.ErrNoActiveSession)
}

func TestAccumulatorRejectsOversizedUtterance(t *testing.T) {
	reg, _ := newTestRegistry(t, 8)
	acc := session.NewAccumulator(reg)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)
	require.NoError(t, s.StartListening())

	require.NoError(t, acc.Append(s.ID(), session.AudioFragment{Data: []byte("12345")}))
	err = acc.Append(s.ID(), session.AudioFragment{Data: []byte("6789")})
	require.ErrorIs(t, err, session.ErrUtteranceTooLarge)

	data, err := acc.FlushAndClear(s.ID())
	require.NoError(t, err)
	assert.Equal(t, "12345", string(data), "rejected fragment must not be buffered")
}

func TestAccumulatorRejectsMixedMimeTypes(t *testing.T) {
	reg, _ := newTestRegistry(t, 0)
	acc := session.NewAccumulator(reg)
	s, err := reg.Create("conn-1")
	require.NoError(t, err)
	require.NoError(t, s.StartListening())

	require.NoError(t, acc.Append(s.ID(), session.AudioFragment{Data: []byte("aa"), MimeType: "audio/wav"}))
	require.NoError(t, acc.Append(s.ID(), session.AudioFragment{Data: []byte("bb")}))

	err = acc.Append(s.ID(), session.AudioFragment{Data: []byte("cc"), MimeType: "audio/webm"})
	require.ErrorIs(t, err, session.ErrBadRequest)
	assert.Equal(t, 2, s.BufferedFragments())

	turn, err := s.EndListening(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "aabb", string(turn.Audio))
	assert.Equal(t, "audio/wav", turn.MimeType)
}
