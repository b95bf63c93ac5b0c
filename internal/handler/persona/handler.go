package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/rev-voice/backend/internal/model/persona"
	"github.com/zhouzirui/rev-voice/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	personas persona.Store
	activeID string
}

// New 创建persona处理器，activeID 为语音管线当前使用的 persona
func New(personas persona.Store, activeID string) *Handler {
	return &Handler{
		personas: personas,
		activeID: activeID,
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Get("/personas/{personaID}", h.handleGetPersona)
}

type personaView struct {
	persona.Persona
	Active bool `json:"active"`
}

func (h *Handler) view(p persona.Persona) personaView {
	return personaView{Persona: p, Active: p.ID == h.activeID}
}

// handleListPersonas 列出所有persona
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	items := h.personas.List()
	views := make([]personaView, 0, len(items))
	for _, p := range items {
		views = append(views, h.view(p))
	}
	utils.RespondJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetPersona(w http.ResponseWriter, r *http.Request) {
	p, ok := h.personas.FindByID(chi.URLParam(r, "personaID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "persona not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.view(p))
}
