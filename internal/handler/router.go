package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/rev-voice/backend/internal/handler/chat"
	"github.com/zhouzirui/rev-voice/backend/internal/handler/persona"
	middlewarePkg "github.com/zhouzirui/rev-voice/backend/internal/middleware"
	personaModel "github.com/zhouzirui/rev-voice/backend/internal/model/persona"
	chatService "github.com/zhouzirui/rev-voice/backend/internal/service/chat"
	"github.com/zhouzirui/rev-voice/backend/internal/service/session"
	"github.com/zhouzirui/rev-voice/backend/pkg/utils"
)

// Deps are the services the router exposes.
type Deps struct {
	Personas      personaModel.Store
	ActivePersona string
	Sessions      *session.Registry
	History       *chatService.Service
	// Voice serves the websocket; nil when the voice pipeline is not configured.
	Voice       http.Handler
	CORSOrigins []string
	StaticDir   string
	Logger      *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(d.Logger.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(d.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":    "OK",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Route("/api", func(api chi.Router) {
		if d.Personas != nil {
			persona.New(d.Personas, d.ActivePersona).RegisterRoutes(api)
		}
		if d.History != nil {
			chat.New(d.History).RegisterRoutes(api)
		}

		api.Get("/voice/status", func(w http.ResponseWriter, r *http.Request) {
			active := 0
			if d.Sessions != nil {
				active = d.Sessions.Len()
			}
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"enabled":        d.Voice != nil,
				"persona":        d.ActivePersona,
				"activeSessions": active,
			})
		})

		api.Get("/voice/ws", func(w http.ResponseWriter, r *http.Request) {
			if d.Voice == nil {
				utils.RespondError(w, http.StatusServiceUnavailable, "voice pipeline unavailable")
				return
			}
			d.Voice.ServeHTTP(w, r)
		})
	})

	if d.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(d.StaticDir)))
	}

	return r
}
