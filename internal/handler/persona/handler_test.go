package persona

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/rev-voice/backend/internal/model/persona"
)

func newTestRouter() http.Handler {
	r := chi.NewRouter()
	New(persona.NewMemoryStore(persona.Seed()), "rev").RegisterRoutes(r)
	return r
}

func TestListPersonas(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personas", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []struct {
		ID     string `json:"id"`
		Voice  string `json:"voice"`
		Active bool   `json:"active"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(persona.Seed()) {
		t.Fatalf("got %d personas", len(got))
	}
	if got[0].ID != "rev" || !got[0].Active || got[0].Voice != "Puck" {
		t.Fatalf("unexpected first persona %+v", got[0])
	}
	if got[1].Active {
		t.Fatalf("only the configured persona should be active")
	}
}

func TestGetPersona(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personas/guide", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/personas/nobody", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
