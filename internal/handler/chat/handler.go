package chat

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/rev-voice/backend/internal/model/chat"
	chatService "github.com/zhouzirui/rev-voice/backend/internal/service/chat"
	"github.com/zhouzirui/rev-voice/backend/pkg/utils"
)

const maxTranscriptLimit = 200

// Handler 语音会话对话记录的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建对话记录处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册对话记录相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions/{sessionID}/transcript", h.handleTranscript)
}

type transcriptResponse struct {
	Session  chat.Session   `json:"session"`
	Messages []chat.Message `json:"messages"`
}

// handleTranscript 返回会话最近的对话，limit 默认为全部
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxTranscriptLimit {
			utils.RespondError(w, http.StatusBadRequest, "limit must be between 0 and 200")
			return
		}
		limit = n
	}

	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if errors.Is(err, chatService.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	messages, err := h.chatSvc.LoadTranscript(r.Context(), sessionID, limit)
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, transcriptResponse{Session: session, Messages: messages})
}
