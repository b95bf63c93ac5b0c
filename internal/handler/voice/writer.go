package voice

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	voicemodel "github.com/zhouzirui/rev-voice/backend/internal/model/voice"
)

var errBackpressure = errors.New("outbound queue full")

// wsWriter is the subset of *websocket.Conn the writer needs.
type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outbound queues encoded events for a single connection. A single FIFO
// keeps the socket order identical to the order sessions emitted in.
type outbound struct {
	queue  chan []byte
	logger *slog.Logger

	overflowOnce sync.Once
	onOverflow   func()
}

func newOutbound(size int, logger *slog.Logger, onOverflow func()) *outbound {
	if size <= 0 {
		size = 64
	}
	return &outbound{
		queue:      make(chan []byte, size),
		logger:     logger,
		onOverflow: onOverflow,
	}
}

// Emit never blocks. A connection that cannot keep up is dropped.
func (o *outbound) Emit(event voicemodel.Outbound) {
	payload, err := json.Marshal(event)
	if err != nil {
		o.logger.Error("encode outbound event failed", "type", event.Type, "error", err)
		return
	}

	select {
	case o.queue <- payload:
		return
	default:
	}

	o.logger.Warn("dropping slow connection", "type", event.Type, "session_id", event.SessionID, "error", errBackpressure)
	o.overflowOnce.Do(func() {
		if o.onOverflow != nil {
			o.onOverflow()
		}
	})
}

// outboundWriter is the only goroutine that writes to the socket.
type outboundWriter struct {
	ws           wsWriter
	queue        *outbound
	pingInterval time.Duration
	writeTimeout time.Duration
}

func (w *outboundWriter) Run(ctx context.Context) error {
	pingInterval := w.pingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	writeTimeout := w.writeTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.drain(writeTimeout)
			_ = w.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return w.ws.Close()
		case <-pingTicker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return err
			}
		case payload := <-w.queue.queue:
			if err := w.write(payload, writeTimeout); err != nil {
				return err
			}
		}
	}
}

// drain flushes whatever is already queued so events emitted just before
// shutdown, such as session-closed, still reach the client.
func (w *outboundWriter) drain(writeTimeout time.Duration) {
	deadline := time.Now().Add(writeTimeout)
	for time.Now().Before(deadline) {
		select {
		case payload := <-w.queue.queue:
			if err := w.write(payload, writeTimeout); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (w *outboundWriter) write(payload []byte, writeTimeout time.Duration) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, payload)
}
