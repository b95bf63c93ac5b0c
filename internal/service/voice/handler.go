// Package voice drives the voice conversation protocol: it maps inbound
// client events onto session transitions and runs each turn's
// transcribe, reply and synthesize pipeline.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/rev-voice/backend/internal/model/speech"
	voicemodel "github.com/zhouzirui/rev-voice/backend/internal/model/voice"
	"github.com/zhouzirui/rev-voice/backend/internal/service/session"
)

// TranscribeFn turns an utterance into text.
type TranscribeFn func(ctx context.Context, audio []byte, mimeType string) (string, error)

// GenerateReplyFn answers text within the conversation of sessionID.
type GenerateReplyFn func(ctx context.Context, text, sessionID string) (string, error)

// SynthesizeFn renders reply text as playable audio.
type SynthesizeFn func(ctx context.Context, text string) (*speech.Speech, error)

// Emitter delivers outbound events to one connection. Emit is called while
// a session lock is held and must not block.
type Emitter interface {
	Emit(event voicemodel.Outbound)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event voicemodel.Outbound)

func (f EmitterFunc) Emit(event voicemodel.Outbound) { f(event) }

const (
	msPerSpokenWord   = 400 * time.Millisecond
	minSpokenDuration = time.Second
)

// Options configures a Handler.
type Options struct {
	Registry    *session.Registry
	Transcribe  TranscribeFn
	Generate    GenerateReplyFn
	Synthesize  SynthesizeFn
	TurnTimeout time.Duration
	Clock       session.Clock
	Logger      *slog.Logger
	// OnSessionStarted runs after a session is created and before the client
	// is told it is ready. An error aborts the start.
	OnSessionStarted func(sessionID string) error
	// OnSessionClosed runs after a session is removed for any reason.
	OnSessionClosed func(sessionID, reason string)
}

// Handler is shared by all connections.
type Handler struct {
	registry    *session.Registry
	accumulator *session.Accumulator
	transcribe  TranscribeFn
	generate    GenerateReplyFn
	synthesize  SynthesizeFn
	turnTimeout time.Duration
	clock       session.Clock
	logger      *slog.Logger
	onStarted   func(sessionID string) error
	onClosed    func(sessionID, reason string)

	turns sync.WaitGroup
}

// New validates opts and returns a Handler.
func New(opts Options) (*Handler, error) {
	if opts.Registry == nil {
		return nil, errors.New("voice: registry is required")
	}
	if opts.Transcribe == nil || opts.Generate == nil || opts.Synthesize == nil {
		return nil, errors.New("voice: transcribe, generate and synthesize are required")
	}
	if opts.Clock == nil {
		opts.Clock = session.SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		registry:    opts.Registry,
		accumulator: session.NewAccumulator(opts.Registry),
		transcribe:  opts.Transcribe,
		generate:    opts.Generate,
		synthesize:  opts.Synthesize,
		turnTimeout: opts.TurnTimeout,
		clock:       opts.Clock,
		logger:      opts.Logger.With(slog.String("component", "voice")),
		onStarted:   opts.OnSessionStarted,
		onClosed:    opts.OnSessionClosed,
	}, nil
}

// Client is one connection's view of the protocol. A client owns at most
// one session at a time.
type Client struct {
	id      string
	emitter Emitter

	mu        sync.Mutex
	sessionID string
}

// NewClient binds a connection id to its outbound emitter.
func NewClient(id string, emitter Emitter) *Client {
	return &Client{id: id, emitter: emitter}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// SessionID returns the bound session, if any.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) bind(sessionID string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
}

func (c *Client) unbind(sessionID string) {
	c.mu.Lock()
	if c.sessionID == sessionID {
		c.sessionID = ""
	}
	c.mu.Unlock()
}

// Handle processes one inbound event. Events from a single client must be
// handled sequentially; turn work continues in the background.
func (h *Handler) Handle(c *Client, in voicemodel.Inbound) {
	var err error
	switch in.Kind() {
	case voicemodel.TypeStartSession:
		err = h.startSession(c)
	case voicemodel.TypeStartListening:
		err = h.startListening(c, in)
	case voicemodel.TypeAudioFragment:
		err = h.audioFragment(c, in)
	case voicemodel.TypeEndAudio:
		err = h.endAudio(c, in)
	case voicemodel.TypeInterrupt:
		err = h.interrupt(c, in)
	case voicemodel.TypeHeartbeat:
		err = h.heartbeat(c, in)
	case voicemodel.TypeDisconnect:
		h.release(c, session.ReasonClientEnded)
	default:
		err = fmt.Errorf("%w: unsupported event type %q", session.ErrBadRequest, in.Type)
	}

	if err != nil {
		h.Reject(c, in, err)
	}
}

// Reject reports err for in back to the client as an error event.
func (h *Handler) Reject(c *Client, in voicemodel.Inbound, err error) {
	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = c.SessionID()
	}
	h.logger.Debug("event rejected",
		"client_id", c.ID(),
		"session_id", sessionID,
		"type", in.Type,
		"error", err,
	)
	h.emitError(c, sessionID, err)
}

// Disconnect tears down the client's session after the transport closed.
func (h *Handler) Disconnect(c *Client) {
	h.release(c, session.ReasonDisconnected)
}

// Wait blocks until every background turn has finished.
func (h *Handler) Wait() {
	h.turns.Wait()
}

func (h *Handler) release(c *Client, reason string) {
	if id := c.SessionID(); id != "" {
		h.registry.Remove(id, reason)
		c.unbind(id)
	}
}

// resolve finds the session an event refers to. An empty id means the
// client's own session.
func (h *Handler) resolve(c *Client, sessionID string) (*session.Session, error) {
	if sessionID == "" {
		sessionID = c.SessionID()
		if sessionID == "" {
			return nil, session.ErrNoActiveSession
		}
	}
	s, err := h.registry.GetOwned(sessionID, c.ID())
	if err != nil {
		return nil, err
	}
	s.Touch()
	return s, nil
}

func (h *Handler) startSession(c *Client) error {
	if prev := c.SessionID(); prev != "" {
		h.registry.Remove(prev, session.ReasonReplaced)
		c.unbind(prev)
	}

	s, err := h.registry.Create(c.ID())
	if err != nil {
		return err
	}
	if h.onStarted != nil {
		if err := h.onStarted(s.ID()); err != nil {
			h.registry.Remove(s.ID(), session.ReasonClientEnded)
			return fmt.Errorf("start session %s: %w", s.ID(), err)
		}
	}
	c.bind(s.ID())
	s.OnClose(func(closed *session.Session, reason string) {
		h.sessionClosed(c, closed.ID(), reason)
	})
	if s.Phase() == session.PhaseClosed {
		return fmt.Errorf("%w: %s closed while starting", session.ErrSessionNotFound, s.ID())
	}

	h.logger.Info("session started", "client_id", c.ID(), "session_id", s.ID())
	h.emit(c, voicemodel.TypeSessionReady, s.ID(), voicemodel.SessionReady{
		SessionID: s.ID(),
		Status:    "ready",
	})
	return nil
}

func (h *Handler) sessionClosed(c *Client, sessionID, reason string) {
	c.unbind(sessionID)
	switch reason {
	case session.ReasonIdleTimeout, session.ReasonShutdown:
		h.emit(c, voicemodel.TypeSessionClosed, sessionID, voicemodel.SessionClosed{
			SessionID: sessionID,
			Reason:    reason,
		})
	}
	h.logger.Info("session closed", "client_id", c.ID(), "session_id", sessionID, "reason", reason)
	if h.onClosed != nil {
		h.onClosed(sessionID, reason)
	}
}

func (h *Handler) startListening(c *Client, in voicemodel.Inbound) error {
	s, err := h.resolve(c, in.SessionID)
	if err != nil {
		return err
	}
	return s.StartListening()
}

func (h *Handler) audioFragment(c *Client, in voicemodel.Inbound) error {
	var payload voicemodel.AudioFragment
	if len(in.Data) == 0 {
		return fmt.Errorf("%w: audio fragment has no data", session.ErrBadRequest)
	}
	if err := json.Unmarshal(in.Data, &payload); err != nil {
		return fmt.Errorf("%w: invalid audio payload: %v", session.ErrBadRequest, err)
	}
	if len(payload.Audio) == 0 {
		return fmt.Errorf("%w: audio fragment is empty", session.ErrBadRequest)
	}
	// An untyped fragment inherits the utterance's type.
	var mimeType string
	if strings.TrimSpace(payload.MimeType) != "" {
		normalized, ok := voicemodel.NormalizeMimeType(payload.MimeType)
		if !ok {
			return fmt.Errorf("%w: unsupported mime type %q", session.ErrBadRequest, payload.MimeType)
		}
		mimeType = normalized
	}

	s, err := h.resolve(c, in.SessionID)
	if err != nil {
		return err
	}
	if err := s.EnsureListening(); err != nil {
		return err
	}
	return h.accumulator.Append(s.ID(), session.AudioFragment{
		Data:       payload.Audio,
		MimeType:   mimeType,
		ReceivedAt: h.clock.Now(),
	})
}

func (h *Handler) endAudio(c *Client, in voicemodel.Inbound) error {
	s, err := h.resolve(c, in.SessionID)
	if err != nil {
		return err
	}
	turn, err := s.EndListening(h.turnTimeout)
	if err != nil {
		return err
	}
	if turn.MimeType == "" {
		turn.MimeType = voicemodel.DefaultMimeType
	}

	h.logger.Debug("turn started", "session_id", s.ID(), "turn", turn.ID, "bytes", len(turn.Audio))
	h.turns.Add(1)
	go func() {
		defer h.turns.Done()
		h.runTurn(c, s, turn)
	}()
	return nil
}

func (h *Handler) runTurn(c *Client, s *session.Session, turn *session.Turn) {
	started := h.clock.Now()

	text, err := h.transcribe(turn.Ctx, turn.Audio, turn.MimeType)
	if err != nil {
		h.failTurn(c, s, turn, fmt.Errorf("%w: %v", session.ErrTranscriptionFailed, err))
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		h.failTurn(c, s, turn, fmt.Errorf("%w: no speech recognized", session.ErrEmptyUtterance))
		return
	}
	err = s.Apply(turn, func() {
		h.emit(c, voicemodel.TypeTranscription, s.ID(), voicemodel.Transcription{Text: text})
	})
	if err != nil {
		h.abandoned(s, turn, err)
		return
	}

	reply, err := h.generate(turn.Ctx, text, s.ID())
	if err != nil {
		h.failTurn(c, s, turn, fmt.Errorf("%w: %v", session.ErrGenerationFailed, err))
		return
	}

	audio, err := h.synthesize(turn.Ctx, reply)
	if err == nil && (audio == nil || len(audio.Data) == 0) {
		err = errors.New("no audio returned")
	}
	if err != nil {
		h.failTurn(c, s, turn, fmt.Errorf("%w: %v", session.ErrSynthesisFailed, err))
		return
	}

	result := session.TurnResult{
		Transcript: text,
		Reply:      reply,
		Audio:      audio,
		Duration:   playbackDuration(audio, reply),
	}
	err = s.Speak(turn, result,
		func(r session.TurnResult) {
			h.emit(c, voicemodel.TypeAudioResponse, s.ID(), voicemodel.AudioResponse{
				Audio:      r.Audio.Data,
				MimeType:   r.Audio.MimeType,
				Text:       r.Reply,
				DurationMs: r.Duration.Milliseconds(),
			})
		},
		func(r session.TurnResult) {
			h.emit(c, voicemodel.TypeTurnComplete, s.ID(), voicemodel.TurnComplete{Transcript: r.Transcript})
		},
	)
	if err != nil {
		h.abandoned(s, turn, err)
		return
	}

	h.logger.Info("turn answered",
		"session_id", s.ID(),
		"turn", turn.ID,
		"latency_ms", h.clock.Now().Sub(started).Milliseconds(),
		"playback_ms", result.Duration.Milliseconds(),
	)
}

func (h *Handler) failTurn(c *Client, s *session.Session, turn *session.Turn, cause error) {
	err := s.Fail(turn, func() {
		h.emitError(c, s.ID(), cause)
	})
	if err != nil {
		h.abandoned(s, turn, err)
		return
	}
	h.logger.Warn("turn failed", "session_id", s.ID(), "turn", turn.ID, "error", cause)
}

func (h *Handler) abandoned(s *session.Session, turn *session.Turn, err error) {
	if errors.Is(err, session.ErrTurnAbandoned) {
		h.logger.Debug("turn result discarded", "session_id", s.ID(), "turn", turn.ID)
		return
	}
	h.logger.Error("turn transition failed", "session_id", s.ID(), "turn", turn.ID, "error", err)
}

func (h *Handler) interrupt(c *Client, in voicemodel.Inbound) error {
	s, err := h.resolve(c, in.SessionID)
	if err != nil {
		return err
	}
	return s.Interrupt(func() {
		h.emit(c, voicemodel.TypeInterrupted, s.ID(), voicemodel.Interrupted{})
	})
}

func (h *Handler) heartbeat(c *Client, in voicemodel.Inbound) error {
	if in.SessionID == "" && c.SessionID() == "" {
		return nil
	}
	_, err := h.resolve(c, in.SessionID)
	return err
}

func (h *Handler) emit(c *Client, eventType, sessionID string, data any) {
	c.emitter.Emit(voicemodel.Outbound{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Timestamp: h.clock.Now().UnixMilli(),
	})
}

func (h *Handler) emitError(c *Client, sessionID string, err error) {
	h.emit(c, voicemodel.TypeError, sessionID, voicemodel.Error{
		Message: err.Error(),
		Kind:    string(session.KindOf(err)),
	})
}

// playbackDuration prefers the decoded audio length and otherwise estimates
// from the reply's word count.
func playbackDuration(audio *speech.Speech, reply string) time.Duration {
	if audio != nil && audio.Duration > 0 {
		return audio.Duration
	}
	d := time.Duration(len(strings.Fields(reply))) * msPerSpokenWord
	if d < minSpokenDuration {
		d = minSpokenDuration
	}
	return d
}
