package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/dayflow/internal/clock"
	"github.com/dohr-michael/dayflow/internal/config"
	"github.com/dohr-michael/dayflow/internal/core"
	"github.com/dohr-michael/dayflow/internal/domain"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "test.db")

	app, err := core.New(context.Background(), cfg, core.Options{
		Clock: clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(app.Stop)
	return NewServer(app, "localhost", 0)
}

func do(srv *Server, method, path, user, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodGet, "/api/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", body["status"])
	}
}

func TestMissingUserHeaderIsUnauthorized(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodGet, "/api/tasks", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestEnergyAndPlanRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodPut, "/api/energy", "alice", `{"level": 4}`)
	if w.Code != http.StatusOK {
		t.Fatalf("set energy status = %d: %s", w.Code, w.Body)
	}

	w = do(srv, http.MethodPost, "/api/plans", "alice", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("generate plan status = %d: %s", w.Code, w.Body)
	}
	var plan domain.DailyPlan
	if err := json.NewDecoder(w.Body).Decode(&plan); err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if plan.Date != "2026-03-02" || plan.EnergyLevel != 4 {
		t.Fatalf("plan = date %s energy %d, want today at level 4", plan.Date, plan.EnergyLevel)
	}

	w = do(srv, http.MethodGet, "/api/plans?date=2026-03-02", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get plan status = %d: %s", w.Code, w.Body)
	}

	w = do(srv, http.MethodGet, "/api/plans?date=2026-03-03", "alice", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("absent plan status = %d, want 404", w.Code)
	}
}

func TestInvalidEnergyIsBadRequest(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodPut, "/api/energy", "alice", `{"level": 9}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body)
	}
	var body map[string]string
	json.NewDecoder(w.Body).Decode(&body)
	if body["kind"] != "invalid_request" {
		t.Fatalf("kind = %q, want invalid_request", body["kind"])
	}
}

func TestIngestWithoutProviderIsBadRequest(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodPost, "/api/ingest/calendar", "alice", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body)
	}
}

func TestUsersCannotSeeEachOthersPlans(t *testing.T) {
	srv := newTestServer(t)

	if w := do(srv, http.MethodPost, "/api/plans", "alice", ""); w.Code != http.StatusCreated {
		t.Fatalf("generate plan status = %d", w.Code)
	}
	if w := do(srv, http.MethodGet, "/api/plans?date=2026-03-02", "bob", ""); w.Code != http.StatusNotFound {
		t.Fatalf("cross-user plan status = %d, want 404", w.Code)
	}
}
