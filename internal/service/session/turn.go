package session

import "fmt"

// Phase is the turn-taking state of a session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseListening
	PhaseThinking
	PhaseSpeaking
	PhaseInterrupted
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListening:
		return "listening"
	case PhaseThinking:
		return "thinking"
	case PhaseSpeaking:
		return "speaking"
	case PhaseInterrupted:
		return "interrupted"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// TurnEvent drives a TurnMachine.
type TurnEvent int

const (
	EventStartListening TurnEvent = iota
	EventEndListening
	EventReplyReady
	EventTurnFailed
	EventPlaybackComplete
	EventInterrupt
	EventClose
)

func (e TurnEvent) String() string {
	switch e {
	case EventStartListening:
		return "start-listening"
	case EventEndListening:
		return "end-listening"
	case EventReplyReady:
		return "reply-ready"
	case EventTurnFailed:
		return "turn-failed"
	case EventPlaybackComplete:
		return "playback-complete"
	case EventInterrupt:
		return "interrupt"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

type transitionKey struct {
	from  Phase
	event TurnEvent
}

// transitions lists every legal edge. Interrupted is transient: Fire passes
// through it and settles in Idle.
var transitions = map[transitionKey]Phase{
	{PhaseIdle, EventStartListening}:          PhaseListening,
	{PhaseListening, EventEndListening}:       PhaseThinking,
	{PhaseThinking, EventReplyReady}:          PhaseSpeaking,
	{PhaseThinking, EventTurnFailed}:          PhaseIdle,
	{PhaseSpeaking, EventPlaybackComplete}:    PhaseIdle,
	{PhaseSpeaking, EventInterrupt}:           PhaseInterrupted,
	{PhaseInterrupted, EventPlaybackComplete}: PhaseIdle,
}

// TurnMachine holds the phase of one session. It is not safe for concurrent
// use; Session guards it with its own mutex.
type TurnMachine struct {
	phase Phase
}

// NewTurnMachine returns a machine in PhaseIdle.
func NewTurnMachine() *TurnMachine {
	return &TurnMachine{phase: PhaseIdle}
}

// Phase reports the current phase.
func (m *TurnMachine) Phase() Phase {
	return m.phase
}

// Fire applies ev. Illegal events return ErrInvalidTransition and leave the
// phase untouched; a closed machine rejects everything with
// ErrSessionNotFound.
func (m *TurnMachine) Fire(ev TurnEvent) error {
	if m.phase == PhaseClosed {
		return fmt.Errorf("%w: %s after close", ErrSessionNotFound, ev)
	}
	if ev == EventClose {
		m.phase = PhaseClosed
		return nil
	}

	next, ok := transitions[transitionKey{from: m.phase, event: ev}]
	if !ok {
		return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev, m.phase)
	}
	m.phase = next

	if next == PhaseInterrupted {
		m.phase = transitions[transitionKey{from: PhaseInterrupted, event: EventPlaybackComplete}]
	}
	return nil
}
