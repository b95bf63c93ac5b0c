package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zhouzirui/rev-voice/backend/internal/model/speech"
)

// TurnResult is produced once per completed utterance.
type TurnResult struct {
	Transcript string
	Reply      string
	Audio      *speech.Speech
	Duration   time.Duration
}

// Turn identifies one in-flight utterance. Results for a turn are applied
// only while it is still the session's current turn.
type Turn struct {
	ID        uint64
	SessionID string
	Ctx       context.Context
	Audio     []byte
	MimeType  string
}

// Info is a point-in-time view of a session.
type Info struct {
	ID           string    `json:"id"`
	Owner        string    `json:"owner"`
	Phase        string    `json:"phase"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// Session is one client's conversation. All state changes happen under mu,
// which is the single serialization point for transitions, playback timers
// and turn results.
type Session struct {
	id                string
	owner             string
	createdAt         time.Time
	clock             Clock
	maxUtteranceBytes int
	lastActivity      atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	machine     *TurnMachine
	audio       utterance
	turnSeq     uint64
	turnCancel  context.CancelFunc
	playback    Timer
	playbackSeq uint64
	result      *TurnResult
	onClose     func(s *Session, reason string)
	closeReason string
}

func newSession(id, owner string, clock Clock, maxUtteranceBytes int) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := clock.Now()
	s := &Session{
		id:                id,
		owner:             owner,
		createdAt:         now,
		clock:             clock,
		maxUtteranceBytes: maxUtteranceBytes,
		ctx:               ctx,
		cancel:            cancel,
		machine:           NewTurnMachine(),
	}
	s.lastActivity.Store(now.UnixNano())
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Owner returns the id of the connection that created the session.
func (s *Session) Owner() string { return s.owner }

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastActivity returns the time of the most recent Touch.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Touch records client activity.
func (s *Session) Touch() {
	s.lastActivity.Store(s.clock.Now().UnixNano())
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Phase()
}

// LastResult returns the most recent turn that reached Speaking.
func (s *Session) LastResult() *TurnResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	return Info{
		ID:           s.id,
		Owner:        s.owner,
		Phase:        s.Phase().String(),
		CreatedAt:    s.createdAt,
		LastActivity: s.LastActivity(),
	}
}

// OnClose installs a hook invoked once, outside the session lock, after the
// session is closed. On an already closed session fn runs immediately with
// the reason it was closed for.
func (s *Session) OnClose(fn func(s *Session, reason string)) {
	s.mu.Lock()
	if s.machine.Phase() == PhaseClosed {
		reason := s.closeReason
		s.mu.Unlock()
		if fn != nil {
			fn(s, reason)
		}
		return
	}
	s.onClose = fn
	s.mu.Unlock()
}

// StartListening opens a new utterance window.
func (s *Session) StartListening() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Touch()
	return s.machine.Fire(EventStartListening)
}

// EnsureListening starts listening when the session is Idle and is a no-op
// when it already is Listening.
func (s *Session) EnsureListening() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.machine.Phase() {
	case PhaseListening:
		return nil
	case PhaseIdle:
		return s.machine.Fire(EventStartListening)
	case PhaseClosed:
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.id)
	default:
		return fmt.Errorf("%w: session is %s", ErrNoActiveSession, s.machine.Phase())
	}
}

func (s *Session) appendFragment(frag AudioFragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.machine.Phase() {
	case PhaseListening:
	case PhaseClosed:
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.id)
	default:
		return fmt.Errorf("%w: session is %s", ErrNoActiveSession, s.machine.Phase())
	}

	s.Touch()
	return s.audio.append(frag, s.maxUtteranceBytes)
}

func (s *Session) flushAudio() ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.Phase() == PhaseClosed {
		return nil, "", fmt.Errorf("%w: %s", ErrSessionNotFound, s.id)
	}
	return s.audio.flush()
}

// BufferedFragments reports how many fragments the open utterance holds.
func (s *Session) BufferedFragments() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audio.len()
}

// EndListening closes the utterance and moves the session to Thinking. The
// returned Turn carries the flushed audio and a context that is cancelled
// when the session closes or timeout elapses. An empty utterance leaves the
// session Idle and returns ErrEmptyUtterance.
func (s *Session) EndListening(timeout time.Duration) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Touch()

	switch s.machine.Phase() {
	case PhaseIdle:
		return nil, fmt.Errorf("%w: no audio received", ErrEmptyUtterance)
	case PhaseListening:
	default:
		return nil, s.machine.Fire(EventEndListening)
	}

	audio, mimeType, flushErr := s.audio.flush()
	if err := s.machine.Fire(EventEndListening); err != nil {
		return nil, err
	}
	if flushErr != nil {
		_ = s.machine.Fire(EventTurnFailed)
		return nil, flushErr
	}

	s.turnSeq++
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(s.ctx)
	}
	s.turnCancel = cancel

	return &Turn{
		ID:        s.turnSeq,
		SessionID: s.id,
		Ctx:       ctx,
		Audio:     audio,
		MimeType:  mimeType,
	}, nil
}

func (s *Session) currentLocked(turn *Turn) bool {
	return turn != nil &&
		turn.ID == s.turnSeq &&
		s.machine.Phase() == PhaseThinking
}

// Apply runs fn under the session lock if turn is still current.
func (s *Session) Apply(turn *Turn, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(turn) {
		return ErrTurnAbandoned
	}
	if fn != nil {
		fn()
	}
	return nil
}

// Fail ends the current turn without a reply and returns the session to
// Idle. onFail runs under the session lock.
func (s *Session) Fail(turn *Turn, onFail func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(turn) {
		return ErrTurnAbandoned
	}
	if err := s.machine.Fire(EventTurnFailed); err != nil {
		return err
	}
	s.releaseTurnLocked()
	if onFail != nil {
		onFail()
	}
	return nil
}

// Speak attaches result, moves the session to Speaking and schedules
// playback completion after result.Duration. onStart runs under the lock
// before the timer can fire; onComplete runs under the lock when playback
// finishes without an interrupt.
func (s *Session) Speak(turn *Turn, result TurnResult, onStart, onComplete func(TurnResult)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(turn) {
		return ErrTurnAbandoned
	}
	if err := s.machine.Fire(EventReplyReady); err != nil {
		return err
	}
	s.releaseTurnLocked()

	s.result = &result
	s.playbackSeq++
	seq := s.playbackSeq
	if onStart != nil {
		onStart(result)
	}
	s.playback = s.clock.AfterFunc(result.Duration, func() {
		s.finishPlayback(seq, onComplete)
	})
	return nil
}

func (s *Session) finishPlayback(seq uint64, onComplete func(TurnResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playback == nil || s.playbackSeq != seq || s.machine.Phase() != PhaseSpeaking {
		return
	}
	s.playback = nil
	if err := s.machine.Fire(EventPlaybackComplete); err != nil {
		return
	}
	if onComplete != nil && s.result != nil {
		onComplete(*s.result)
	}
}

// Interrupt cancels playback. It is only legal while Speaking; the session
// passes through Interrupted and settles in Idle.
func (s *Session) Interrupt(onInterrupted func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Touch()
	if err := s.machine.Fire(EventInterrupt); err != nil {
		return err
	}
	s.stopPlaybackLocked()
	if onInterrupted != nil {
		onInterrupted()
	}
	return nil
}

func (s *Session) stopPlaybackLocked() {
	if s.playback != nil {
		s.playback.Stop()
		s.playback = nil
	}
	s.playbackSeq++
}

func (s *Session) releaseTurnLocked() {
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
}

// close is idempotent and reports whether this call closed the session.
func (s *Session) close(reason string) bool {
	s.mu.Lock()
	if s.machine.Phase() == PhaseClosed {
		s.mu.Unlock()
		return false
	}
	_ = s.machine.Fire(EventClose)
	s.closeReason = reason
	s.audio.reset()
	s.stopPlaybackLocked()
	s.releaseTurnLocked()
	s.cancel()
	hook := s.onClose
	s.onClose = nil
	s.mu.Unlock()

	if hook != nil {
		hook(s, reason)
	}
	return true
}
