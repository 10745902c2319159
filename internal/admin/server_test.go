package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/bryanhughes/pgo/internal/health"
	"github.com/bryanhughes/pgo/internal/pgpool"
	"github.com/bryanhughes/pgo/internal/telemetry"
)

type fakeRegistry struct {
	pools map[string]*pgpool.Pool
}

func (f *fakeRegistry) Pools() map[string]*pgpool.Pool { return f.pools }

func newTestServer() (*Server, *mux.Router) {
	reg := &fakeRegistry{pools: map[string]*pgpool.Pool{}}
	collector := telemetry.New()
	hc := health.NewChecker(reg, collector, health.Config{})

	s := NewServer(reg, hc, collector)

	mr := mux.NewRouter()
	mr.HandleFunc("/pools", s.listPools).Methods("GET")
	mr.HandleFunc("/pools/{name}", s.getPool).Methods("GET")
	mr.HandleFunc("/status", s.statusHandler).Methods("GET")
	mr.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	mr.HandleFunc("/ready", s.readyHandler).Methods("GET")

	return s, mr
}

func TestListPoolsEmpty(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("GET", "/pools", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var result []poolResponse
	if err := json.NewDecoder(rr.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected no pools, got %d", len(result))
	}
}

func TestGetPoolNotFound(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("GET", "/pools/missing", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestHealthHandlerWithNoPools(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 when no pool has been marked unhealthy, got %d", rr.Code)
	}
}

func TestReadyHandlerNoPoolsIsReady(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("GET", "/ready", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected ready with zero pools, got %d", rr.Code)
	}
}

func TestStatusHandlerReportsRuntimeInfo(t *testing.T) {
	_, mr := newTestServer()

	req := httptest.NewRequest("GET", "/status", nil)
	rr := httptest.NewRecorder()
	mr.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["go_version"]; !ok {
		t.Error("expected go_version in status response")
	}
}
