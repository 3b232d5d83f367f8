// Package gateway serves the story API, run control and live pipeline
// events over HTTP and WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/storybook/internal/catalog"
	"github.com/dohr-michael/storybook/internal/events"
	"github.com/dohr-michael/storybook/internal/gateway/ws"
	"github.com/dohr-michael/storybook/internal/ledger"
	"github.com/dohr-michael/storybook/internal/pipeline"
)

// Runner starts runs and single stages. *pipeline.Orchestrator satisfies it.
type Runner interface {
	Start(ctx context.Context, opts pipeline.RunOptions) (string, <-chan pipeline.RunResult, error)
	RunStage(ctx context.Context, stage pipeline.Stage, opts pipeline.RunOptions) (pipeline.StageResult, error)
}

// TaskSource reads the ledger.
type TaskSource interface {
	Load(ctx context.Context) ([]ledger.Task, error)
}

// Config holds the gateway dependencies. Stories and HistoryDir are
// optional; their routes answer 503 when unset.
type Config struct {
	Host       string
	Port       int
	Bus        *events.Bus
	Runner     Runner
	Tasks      TaskSource
	Stories    *catalog.Store
	HistoryDir string
}

// Server is the storybook gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	runner     Runner
	tasks      TaskSource
	stories    *catalog.Store
	historyDir string

	// runs outlive the request that started them
	runCtx    context.Context
	cancelRun context.CancelFunc
}

// NewServer creates a new gateway server.
func NewServer(cfg Config) *Server {
	hub := ws.NewHub(cfg.Bus)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:        hub,
		bus:        cfg.Bus,
		runner:     cfg.Runner,
		tasks:      cfg.Tasks,
		stories:    cfg.Stories,
		historyDir: cfg.HistoryDir,
	}
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	hub.SetHandler(s.handleWSRequest)

	// Routes
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)

	// API: story catalog
	r.Get("/api/story", s.handleGetStory)
	r.Post("/api/story", s.handlePostStories)
	r.Get("/api/all_story", s.handleAllStories)

	// API: pipeline
	r.Get("/api/tasks", s.handleTasks)
	r.Post("/api/runs", s.handleStartRun)
	r.Get("/api/runs/{id}", s.handleRunHistory)
	r.Post("/api/stages/{stage}", s.handleRunStage)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("storybook gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown cancels runs started through the gateway and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelRun()
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	history := s.bus.History(limit)
	if history == nil {
		history = []events.Event{}
	}
	writeJSON(w, http.StatusOK, history)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
