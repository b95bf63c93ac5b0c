package session

import "errors"

// Kind is the client-visible classification of a session error.
type Kind string

const (
	KindSessionNotFound     Kind = "SessionNotFound"
	KindInvalidTransition   Kind = "InvalidTransition"
	KindEmptyUtterance      Kind = "EmptyUtterance"
	KindNoActiveSession     Kind = "NoActiveSession"
	KindTranscriptionFailed Kind = "TranscriptionFailed"
	KindGenerationFailed    Kind = "GenerationFailed"
	KindSynthesisFailed     Kind = "SynthesisFailed"
	KindUtteranceTooLarge   Kind = "UtteranceTooLarge"
	KindRateLimited         Kind = "RateLimited"
	KindBadRequest          Kind = "BadRequest"
	KindInternal            Kind = "Internal"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrEmptyUtterance      = errors.New("empty utterance")
	ErrNoActiveSession     = errors.New("no active session")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrGenerationFailed    = errors.New("generation failed")
	ErrSynthesisFailed     = errors.New("synthesis failed")
	ErrUtteranceTooLarge   = errors.New("utterance too large")
	ErrRateLimited         = errors.New("rate limited")
	ErrBadRequest          = errors.New("bad request")

	// ErrTurnAbandoned is returned when a turn result arrives after the turn
	// was superseded or the session closed. It is never sent to clients.
	ErrTurnAbandoned = errors.New("turn abandoned")
)

var kindTable = []struct {
	err  error
	kind Kind
}{
	{ErrSessionNotFound, KindSessionNotFound},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrEmptyUtterance, KindEmptyUtterance},
	{ErrNoActiveSession, KindNoActiveSession},
	{ErrTranscriptionFailed, KindTranscriptionFailed},
	{ErrGenerationFailed, KindGenerationFailed},
	{ErrSynthesisFailed, KindSynthesisFailed},
	{ErrUtteranceTooLarge, KindUtteranceTooLarge},
	{ErrRateLimited, KindRateLimited},
	{ErrBadRequest, KindBadRequest},
}

// KindOf maps err onto its wire kind. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}
