package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/rev-voice/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/rev-voice/backend/internal/service/chat"
)

func setupRouter(t *testing.T) (*chi.Mux, *chatservice.Service) {
	t.Helper()
	chatSvc := chatservice.NewService()

	r := chi.NewRouter()
	New(chatSvc).RegisterRoutes(r)
	return r, chatSvc
}

func seed(t *testing.T, svc *chatservice.Service, sessionID string, contents ...string) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.OpenSession(ctx, sessionID, "rev"); err != nil {
		t.Fatalf("open session: %v", err)
	}
	for i, content := range contents {
		sender := chat.SenderUser
		if i%2 == 1 {
			sender = chat.SenderAssistant
		}
		if err := svc.SaveMessage(ctx, chat.Message{SessionID: sessionID, Sender: sender, Content: content}); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}
}

func TestTranscript(t *testing.T) {
	r, svc := setupRouter(t)
	seed(t, svc, "s-1", "What is the RV400 range?", "About 150 km.", "And top speed?", "85 km/h.")

	req := httptest.NewRequest(http.MethodGet, "/sessions/s-1/transcript?limit=2", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Session.PersonaID != "rev" {
		t.Fatalf("unexpected persona %q", body.Session.PersonaID)
	}
	if len(body.Messages) != 2 || body.Messages[1].Content != "85 km/h." {
		t.Fatalf("unexpected messages %+v", body.Messages)
	}
}

func TestTranscriptUnknownSession(t *testing.T) {
	r, _ := setupRouter(t)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/sessions/missing/transcript", nil))

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestTranscriptInvalidLimit(t *testing.T) {
	r, svc := setupRouter(t)
	seed(t, svc, "s-1", "hello")

	for _, limit := range []string{"abc", "-1", "1000"} {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/sessions/s-1/transcript?limit="+limit, nil))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s: expected 400, got %d", limit, resp.Code)
		}
	}
}
