package controlpanel

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubStats struct{ stats Stats }

func (s stubStats) Stats() Stats { return s.stats }

type stubConfigs struct {
	current json.RawMessage
	setErr  error
	lastSet json.RawMessage
}

func (s *stubConfigs) GetConfig() (any, error) { return s.current, nil }
func (s *stubConfigs) SetConfig(raw json.RawMessage) error {
	s.lastSet = raw
	return s.setErr
}

func newTestServer() (*Server, *stubConfigs, *bool) {
	stopped := false
	configs := &stubConfigs{current: json.RawMessage(`{"symbol":"BTC/USD"}`)}
	srv := New(Config{
		Addr:  ":0",
		Stats: stubStats{stats: Stats{OpenOrders: 3, StartedAt: time.Unix(0, 0)}},
		Configs: configs,
		Stop: func(ctx context.Context) error {
			stopped = true
			return nil
		},
	})
	return srv, configs, &stopped
}

func (s *Server) testMux() http.Handler { return s.server.Handler }

func TestHealthReturnsOK(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.testMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %q, want ok", body["status"])
	}
}

func TestStatsReturnsProviderValue(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	srv.testMux().ServeHTTP(rec, req)

	var stats Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats.OpenOrders != 3 {
		t.Fatalf("OpenOrders = %d, want 3", stats.OpenOrders)
	}
}

func TestStopInvokesHook(t *testing.T) {
	t.Parallel()
	srv, _, stopped := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/stop", nil)
	srv.testMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !*stopped {
		t.Fatal("expected Stop hook to be invoked")
	}
}

func TestStopRejectsGet(t *testing.T) {
	t.Parallel()
	srv, _, stopped := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stop", nil)
	srv.testMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if *stopped {
		t.Fatal("Stop hook must not run on GET")
	}
}

func TestGetConfigReturnsCurrentConfig(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/get_config", nil)
	srv.testMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestSetConfigAppliesBody(t *testing.T) {
	t.Parallel()
	srv, configs, _ := newTestServer()

	body := bytes.NewBufferString(`{"symbol":"ETH/USD"}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/set_config", body)
	srv.testMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if string(configs.lastSet) != `{"symbol":"ETH/USD"}` {
		t.Fatalf("SetConfig got %s", configs.lastSet)
	}
}

func TestSetConfigRejectsBadBody(t *testing.T) {
	t.Parallel()
	srv, _, _ := newTestServer()

	body := bytes.NewBufferString(`not json`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/set_config", body)
	srv.testMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
