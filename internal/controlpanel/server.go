// Package controlpanel is the thin local HTTP surface spec.md leaves as an
// out-of-scope transport detail: health, stop, stats, get_config, and
// set_config. Grounded on the teacher's internal/api/server.go dashboard
// server, repurposed from market snapshots to engine operations.
package controlpanel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StatsProvider reports a point-in-time view of engine state.
type StatsProvider interface {
	Stats() Stats
}

// Stats is the JSON body returned by /stats.
type Stats struct {
	OpenOrders      int       `json:"open_orders"`
	BufferedFills   int       `json:"buffered_fill_keys"`
	EventSubscribers int      `json:"event_subscribers"`
	StartedAt       time.Time `json:"started_at"`
}

// ConfigStore reads and applies configuration at runtime.
type ConfigStore interface {
	GetConfig() (any, error)
	SetConfig(raw json.RawMessage) error
}

// Config bundles Server's dependencies.
type Config struct {
	Addr      string
	Stats     StatsProvider
	Configs   ConfigStore
	Stop      func(context.Context) error
	Log       *slog.Logger
}

// Server is the control-panel HTTP surface.
type Server struct {
	cfg    Config
	server *http.Server
	log    *slog.Logger
}

// New builds a Server. Call Start to begin serving.
func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "controlpanel")

	s := &Server{cfg: cfg, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/get_config", s.handleGetConfig)
	mux.HandleFunc("/set_config", s.handleSetConfig)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	s.log.Info("control panel starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("controlpanel: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Stop == nil {
		http.Error(w, "stop not wired", http.StatusNotImplemented)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Stop(ctx); err != nil {
		s.log.Error("stop failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "stopping"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.cfg.Stats.Stats()); err != nil {
		s.log.Error("encode stats failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.cfg.Configs.GetConfig()
	if err != nil {
		s.log.Error("get_config failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		s.log.Error("encode config failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	raw, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.cfg.Configs.SetConfig(raw); err != nil {
		s.log.Error("set_config failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "applied"})
}

func readBody(r *http.Request) (json.RawMessage, error) {
	defer r.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("controlpanel: decode request body: %w", err)
	}
	return raw, nil
}
