package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/rev-voice/backend/internal/config"
	"github.com/zhouzirui/rev-voice/backend/internal/handler"
	voicehandler "github.com/zhouzirui/rev-voice/backend/internal/handler/voice"
	"github.com/zhouzirui/rev-voice/backend/internal/logging"
	"github.com/zhouzirui/rev-voice/backend/internal/model/persona"
	"github.com/zhouzirui/rev-voice/backend/internal/service/ai"
	"github.com/zhouzirui/rev-voice/backend/internal/service/chat"
	"github.com/zhouzirui/rev-voice/backend/internal/service/session"
	"github.com/zhouzirui/rev-voice/backend/internal/service/speech"
	"github.com/zhouzirui/rev-voice/backend/internal/service/voice"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Warn("no .env file loaded, using process environment only", "error", envErr)
	}

	personaStore := persona.NewMemoryStore(persona.Seed())
	active, ok := persona.Resolve(personaStore, cfg.AI.PersonaID)
	if !ok {
		logger.Error("no persona available")
		os.Exit(1)
	}
	if active.ID != cfg.AI.PersonaID {
		logger.Warn("persona not found, using fallback", "requested", cfg.AI.PersonaID, "persona", active.ID)
	}

	chatService := chat.NewService()
	registry := session.NewRegistry(session.Options{
		MaxUtteranceBytes: cfg.Session.MaxUtteranceBytes,
		Logger:            logging.Component(logger, "session"),
	})

	var (
		voiceService *voice.Handler
		voiceRoute   http.Handler
	)
	if cfg.VoiceEnabled() {
		voiceService, err = newVoicePipeline(ctx, cfg, active, chatService, registry, logger)
		if err != nil {
			logger.Warn("voice pipeline disabled", "error", err)
		} else {
			voiceRoute = voicehandler.NewWebSocketHandler(voiceService, cfg.WebSocket, cfg.Server.CORSOrigins, logger)
			logger.Info("voice pipeline ready", "provider", cfg.AI.Provider, "persona", active.ID)
		}
	} else {
		logger.Warn("GEMINI_API_KEY 或对话模型未配置，语音链路不可用")
	}

	go registry.RunReaper(ctx, cfg.Session.ReapInterval, cfg.Session.IdleTimeout)

	router := handler.NewRouter(handler.Deps{
		Personas:      personaStore,
		ActivePersona: active.ID,
		Sessions:      registry,
		History:       chatService,
		Voice:         voiceRoute,
		CORSOrigins:   cfg.Server.CORSOrigins,
		StaticDir:     cfg.Server.StaticDir,
		Logger:        logger,
	})

	connCtx, cancelConns := context.WithCancel(context.Background())
	defer cancelConns()

	beforeShutdown := func() {
		n := registry.CloseAll(session.ReasonShutdown)
		logger.Info("closed sessions for shutdown", "count", n)
		cancelConns()
	}

	if err := startServer(ctx, connCtx, cfg.Server, router, logger, beforeShutdown); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	if voiceService != nil {
		voiceService.Wait()
	}
	logger.Info("server stopped")
}

func newVoicePipeline(
	ctx context.Context,
	cfg *config.Config,
	p persona.Persona,
	history *chat.Service,
	registry *session.Registry,
	logger *slog.Logger,
) (*voice.Handler, error) {
	client, err := cfg.Gemini.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	chatModel, err := ai.NewChatModel(ctx, cfg, client)
	if err != nil {
		return nil, fmt.Errorf("create chat model: %w", err)
	}
	aiService, err := ai.NewService(ctx, chatModel, ai.Options{
		Persona:      p,
		History:      history,
		HistoryLimit: cfg.AI.HistoryLimit,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	voiceName := speech.ResolveVoice(cfg.Gemini.TTSVoice, p.Voice)
	speechService, err := speech.NewService(
		speech.NewGeminiTranscriber(client.Models, cfg.Gemini.TranscribeModel),
		speech.NewGeminiSynthesizer(client.Models, cfg.Gemini.TTSModel, voiceName, p.Language),
		p.Language,
		logger,
	)
	if err != nil {
		return nil, err
	}

	return voice.New(voice.Options{
		Registry:    registry,
		Transcribe:  speechService.Transcribe,
		Generate:    aiService.GenerateReply,
		Synthesize:  speechService.Synthesize,
		TurnTimeout: cfg.Session.TurnTimeout,
		Logger:      logger,
		OnSessionStarted: func(sessionID string) error {
			return aiService.OpenConversation(context.Background(), sessionID)
		},
		OnSessionClosed: func(sessionID, _ string) {
			history.DeleteSession(context.Background(), sessionID)
		},
	})
}

func startServer(ctx, connCtx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *slog.Logger, beforeShutdown func()) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return connCtx },
	}

	logger.Info("Rev voice backend listening", "addr", addr)
	return runServer(ctx, srv, beforeShutdown)
}

func runServer(ctx context.Context, srv *http.Server, beforeShutdown func()) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		if beforeShutdown != nil {
			beforeShutdown()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
