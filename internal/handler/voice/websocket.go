// Package voice exposes the voice protocol over a websocket.
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/rev-voice/backend/internal/config"
	voicemodel "github.com/zhouzirui/rev-voice/backend/internal/model/voice"
	"github.com/zhouzirui/rev-voice/backend/internal/service/session"
	voicesvc "github.com/zhouzirui/rev-voice/backend/internal/service/voice"
)

// Protocol is the subset of the voice service a connection drives.
type Protocol interface {
	Handle(c *voicesvc.Client, in voicemodel.Inbound)
	Reject(c *voicesvc.Client, in voicemodel.Inbound, err error)
	Disconnect(c *voicesvc.Client)
}

// WebSocketHandler 语音会话 WebSocket 入口
type WebSocketHandler struct {
	protocol Protocol
	cfg      config.WebSocketConfig
	logger   *slog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewWebSocketHandler 创建 WebSocket 处理器，origins 为空或包含 "*" 时不校验来源
func NewWebSocketHandler(protocol Protocol, cfg config.WebSocketConfig, origins []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &WebSocketHandler{
		protocol: protocol,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "ws")),
		now:      time.Now,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:     originChecker(origins),
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return h
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			allowed[strings.ToLower(o)] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}

// ServeHTTP upgrades the request and runs the connection until either side
// closes it.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.protocol == nil {
		http.Error(w, "voice pipeline unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	clientID := uuid.NewString()
	logger := h.logger.With("client_id", clientID)
	queue := newOutbound(h.cfg.OutboundQueue, logger, cancel)
	client := voicesvc.NewClient(clientID, queue)

	writer := &outboundWriter{
		ws:           conn,
		queue:        queue,
		pingInterval: h.cfg.PingInterval,
		writeTimeout: h.cfg.WriteTimeout,
	}
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := writer.Run(ctx); err != nil {
			logger.Debug("writer stopped", "error", err)
		}
		cancel()
		_ = conn.Close()
	}()

	logger.Info("voice connection opened", "remote", r.RemoteAddr)
	h.readLoop(conn, client, logger)

	h.protocol.Disconnect(client)
	cancel()
	<-writerDone
	logger.Info("voice connection closed")
}

func (h *WebSocketHandler) readLoop(conn *websocket.Conn, client *voicesvc.Client, logger *slog.Logger) {
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}
	h.extendReadDeadline(conn)
	conn.SetPongHandler(func(string) error {
		h.extendReadDeadline(conn)
		return nil
	})

	limiter := newAudioLimiter(h.now, h.cfg.MaxAudioFPS, h.cfg.MaxAudioBytesPerSecond, 1, h.cfg.MaxMessageBytes)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("read failed", "error", err)
			}
			return
		}
		h.extendReadDeadline(conn)

		if messageType != websocket.TextMessage {
			h.protocol.Reject(client, voicemodel.Inbound{}, fmt.Errorf("%w: binary frames are not supported", session.ErrBadRequest))
			continue
		}

		var in voicemodel.Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			h.protocol.Reject(client, voicemodel.Inbound{}, fmt.Errorf("%w: invalid frame: %v", session.ErrBadRequest, err))
			continue
		}

		if in.Kind() == voicemodel.TypeAudioFragment && !limiter.Allow(len(in.Data)) {
			h.protocol.Reject(client, in, session.ErrRateLimited)
			continue
		}

		h.protocol.Handle(client, in)
	}
}

func (h *WebSocketHandler) extendReadDeadline(conn *websocket.Conn) {
	if h.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(h.now().Add(h.cfg.ReadTimeout))
	}
}
