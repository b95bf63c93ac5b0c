package session

import (
	"bytes"
	"fmt"
	"time"
)

// AudioFragment is one streamed chunk of an in-progress utterance.
type AudioFragment struct {
	Data       []byte
	MimeType   string
	ReceivedAt time.Time
}

// utterance is the per-session ordered fragment buffer.
type utterance struct {
	fragments []AudioFragment
	size      int
	mimeType  string
}

// append rejects a fragment whose type differs from the utterance's, leaving
// the buffer as it was. Untyped fragments join any utterance.
func (u *utterance) append(frag AudioFragment, limit int) error {
	if frag.MimeType != "" && u.mimeType != "" && frag.MimeType != u.mimeType {
		return fmt.Errorf("%w: fragment is %s, utterance is %s", ErrBadRequest, frag.MimeType, u.mimeType)
	}
	if limit > 0 && u.size+len(frag.Data) > limit {
		return fmt.Errorf("%w: %d bytes buffered, limit %d", ErrUtteranceTooLarge, u.size, limit)
	}
	u.fragments = append(u.fragments, frag)
	u.size += len(frag.Data)
	if u.mimeType == "" {
		u.mimeType = frag.MimeType
	}
	return nil
}

// flush concatenates fragments in arrival order and resets the buffer.
func (u *utterance) flush() ([]byte, string, error) {
	if len(u.fragments) == 0 {
		return nil, "", ErrEmptyUtterance
	}

	var buf bytes.Buffer
	buf.Grow(u.size)
	for _, frag := range u.fragments {
		buf.Write(frag.Data)
	}
	mimeType := u.mimeType
	u.reset()
	return buf.Bytes(), mimeType, nil
}

func (u *utterance) reset() {
	u.fragments = nil
	u.size = 0
	u.mimeType = ""
}

func (u *utterance) len() int {
	return len(u.fragments)
}

// Accumulator buffers audio fragments by session id. There is exactly one
// accumulation window per session, held on the Session itself.
type Accumulator struct {
	registry *Registry
}

// NewAccumulator returns an accumulator over the sessions in registry.
func NewAccumulator(registry *Registry) *Accumulator {
	return &Accumulator{registry: registry}
}

// Append adds frag to the session's utterance. The session must be
// Listening.
func (a *Accumulator) Append(sessionID string, frag AudioFragment) error {
	s, err := a.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if frag.ReceivedAt.IsZero() {
		frag.ReceivedAt = s.clock.Now()
	}
	return s.appendFragment(frag)
}

// FlushAndClear returns the buffered utterance and empties the buffer.
func (a *Accumulator) FlushAndClear(sessionID string) ([]byte, error) {
	s, err := a.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	data, _, err := s.flushAudio()
	return data, err
}
