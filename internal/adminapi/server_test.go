package adminapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kongor-project/loginway/internal/config"
	"github.com/kongor-project/loginway/internal/events"
	"github.com/kongor-project/loginway/internal/ipban"
	"github.com/kongor-project/loginway/internal/patch"
	"github.com/kongor-project/loginway/internal/queue"
	"github.com/kongor-project/loginway/internal/registry"
)

type emptyLoader struct{}

func (emptyLoader) LoadBannedCIDRs() ([]string, error) { return nil, nil }

func newTestServer(t *testing.T, token string) *Server {
	t.Helper()
	q := queue.New(10, events.NewEventBus())
	sessions := registry.New()
	p := patch.NewPatcher(nil, nil)
	bans, err := ipban.New(emptyLoader{}, 16)
	if err != nil {
		t.Fatalf("unexpected error building ban cache: %v", err)
	}
	return New(config.AdminConfig{Enabled: true, AuthToken: token}, q, sessions, p, bans)
}

func TestHealthzIsPublic(t *testing.T) {
	s := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	s := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/population", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProtectedRouteAcceptsValidToken(t *testing.T) {
	s := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/population", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestEmptyTokenDisablesAuth(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/queue", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
