package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/codeterm/internal/config"
	"github.com/felixgeelhaar/codeterm/internal/events"
	"github.com/felixgeelhaar/codeterm/internal/runner"
	"github.com/felixgeelhaar/codeterm/internal/session"
	"github.com/felixgeelhaar/fortify/ratelimit"
)

// Version is reported by the status endpoint
const Version = "0.1.0"

// Server represents the codeterm daemon HTTP server
type Server struct {
	cfg     *config.LocalConfig
	server  *http.Server
	router  *http.ServeMux
	handler http.Handler

	engine    runner.Executor
	sessions  *session.Service
	publisher events.Publisher
	startedAt time.Time
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Config    *config.LocalConfig
	Publisher events.Publisher // nil disables lifecycle events
	Options   []session.Option // extra session service options, used by tests
}

// SessionConfig maps the terminal settings onto the session service
func SessionConfig(t config.TerminalConfig) session.Config {
	cfg := session.DefaultConfig()
	cfg.DelayMin = t.DelayMin()
	cfg.DelayMax = t.DelayMax()
	cfg.MaxIterations = t.MaxIterations
	cfg.MaxOutputBytes = t.MaxOutputBytes
	cfg.MaxConcurrentRuns = t.MaxConcurrentRuns
	cfg.MaxQueuedRuns = t.MaxQueuedRuns
	cfg.Perf = session.PerfConfig{
		HeapBaseMB:         t.Perf.HeapBaseMB,
		HeapIncrementMinMB: t.Perf.HeapIncrementMinMB,
		HeapIncrementMaxMB: t.Perf.HeapIncrementMaxMB,
		HeapTotalMB:        t.Perf.HeapTotalMB,
		CPUMinPercent:      t.Perf.CPUMinPercent,
		CPUMaxPercent:      t.Perf.CPUMaxPercent,
		DebugHeapMB:        t.Perf.DebugHeapMB,
		DebugCPUPercent:    t.Perf.DebugCPUPercent,
		StepHeapDeltaKB:    t.Perf.StepHeapDeltaKB,
		StepCPUDelta:       t.Perf.StepCPUDelta,
	}
	return cfg
}

// NewServer creates a new daemon server
func NewServer(ctx context.Context, cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		return nil, errors.New("config is required")
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	s := &Server{
		cfg:       cfg.Config,
		router:    http.NewServeMux(),
		publisher: publisher,
		engine: runner.NewEngine(runner.EngineConfig{
			MaxIterations:  cfg.Config.Terminal.MaxIterations,
			MaxOutputBytes: cfg.Config.Terminal.MaxOutputBytes,
		}),
		startedAt: time.Now(),
	}

	opts := append([]session.Option{
		session.WithPublisher(publisher),
		session.WithExecutor(s.engine),
	}, cfg.Options...)
	s.sessions = session.NewService(SessionConfig(cfg.Config.Terminal), opts...)

	s.setupRoutes()

	// Middleware chain, outermost first
	var handler http.Handler = s.router
	if rl := cfg.Config.RateLimit; rl.Enabled {
		burst := rl.Burst
		if burst <= 0 {
			burst = rl.RequestsPerSecond * 2
		}
		limiter := ratelimit.New(&ratelimit.Config{
			Rate:     rl.RequestsPerSecond,
			Burst:    burst,
			Interval: time.Second,
		})
		handler = rateLimitMiddleware(limiter, handler)
	}
	handler = correlationIDMiddleware(recoveryMiddleware(loggingMiddleware(handler)))
	s.handler = handler

	addr := fmt.Sprintf("%s:%d", cfg.Config.Daemon.Bind, cfg.Config.Daemon.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)

	// Languages
	s.router.HandleFunc("GET /v1/languages", s.handleListLanguages)
	s.router.HandleFunc("GET /v1/templates/{language}", s.handleGetTemplate)
	s.router.HandleFunc("POST /v1/execute", s.handleExecute)

	// Sessions
	s.router.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	s.router.HandleFunc("GET /v1/sessions", s.handleListSessions)
	s.router.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.router.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	s.router.HandleFunc("PUT /v1/sessions/{id}/source", s.handleUpdateSource)
	s.router.HandleFunc("PUT /v1/sessions/{id}/language", s.handleSetLanguage)
	s.router.HandleFunc("DELETE /v1/sessions/{id}/output", s.handleClearOutput)

	// Runs
	s.router.HandleFunc("POST /v1/sessions/{id}/run", s.handleRun)
	s.router.HandleFunc("DELETE /v1/sessions/{id}/run", s.handleCancelRun)

	// Debugger
	s.router.HandleFunc("POST /v1/sessions/{id}/debug/start", s.handleStartDebug)
	s.router.HandleFunc("POST /v1/sessions/{id}/debug/step", s.handleStepOver)
	s.router.HandleFunc("POST /v1/sessions/{id}/debug/stop", s.handleStopDebug)
	s.router.HandleFunc("POST /v1/sessions/{id}/breakpoints", s.handleAddBreakpoint)
	s.router.HandleFunc("DELETE /v1/sessions/{id}/breakpoints/{line}", s.handleRemoveBreakpoint)
	s.router.HandleFunc("POST /v1/sessions/{id}/watches", s.handleAddWatch)
	s.router.HandleFunc("DELETE /v1/sessions/{id}/watches/{name}", s.handleRemoveWatch)
}

// Handler returns the router wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Sessions returns the session service
func (s *Server) Sessions() *session.Service {
	return s.sessions
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting codeterm daemon",
		"addr", s.server.Addr,
		"languages", runner.SupportedLanguages(),
		"events", s.cfg.Events.AMQPURL != "",
	)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunReaper expires idle sessions every interval until ctx is done. A zero
// session TTL disables expiry.
func (s *Server) RunReaper(ctx context.Context, interval time.Duration) error {
	ttl := s.cfg.Terminal.SessionTTL()
	if ttl <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.sessions.ExpireIdle(ctx, ttl)
			if err != nil {
				slog.Warn("session reaper failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired idle sessions", "count", n, "ttl", ttl)
			}
		}
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")

	err := s.server.Shutdown(ctx)
	if serr := s.sessions.Shutdown(ctx); serr != nil {
		slog.Warn("background runs did not finish", "error", serr)
	}
	return err
}

// Handler implementations

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "failed to list sessions", err)
		return
	}
	running := 0
	for _, sess := range sessions {
		if sess.IsRunning() {
			running++
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":         "running",
		"version":        Version,
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"languages":      runner.SupportedLanguages(),
		"sessions":       len(sessions),
		"running":        running,
		"events_enabled": s.cfg.Events.AMQPURL != "",
	})
}

func (s *Server) handleListLanguages(w http.ResponseWriter, r *http.Request) {
	configs := runner.DefaultLanguageConfigs()
	result := make([]map[string]interface{}, 0, len(configs))
	for _, lang := range runner.SupportedLanguages() {
		cfg := configs[lang]
		result = append(result, map[string]interface{}{
			"id":        lang,
			"name":      cfg.Name,
			"file_name": cfg.FileName,
			"compiler":  cfg.Compiler,
			"command":   cfg.CompilerCommand,
		})
	}

	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"languages": result,
	})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	lang, err := runner.ParseLanguage(r.PathValue("language"))
	if err != nil {
		s.jsonError(w, http.StatusNotFound, "unknown language", err)
		return
	}
	cfg, _ := runner.ConfigFor(lang)

	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"language":  lang,
		"file_name": cfg.FileName,
		"template":  cfg.Template,
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
		Source   string `json:"source"`
	}
	if err := decodeBody(r, &req, false); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	lang, err := runner.ParseLanguage(req.Language)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "unsupported language", err)
		return
	}

	s.jsonResponse(w, http.StatusOK, s.engine.Execute(req.Source, lang))
}

// Session handlers

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
	}
	if err := decodeBody(r, &req, false); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	lang, err := runner.ParseLanguage(req.Language)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "unsupported language", err)
		return
	}

	sess, err := s.sessions.Create(r.Context(), lang)
	if err != nil {
		s.serviceError(w, "failed to create session", err)
		return
	}

	s.jsonResponse(w, http.StatusCreated, sess.View())
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		s.serviceError(w, "failed to list sessions", err)
		return
	}

	views := make([]session.View, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, sess.View())
	}
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"sessions": views,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.serviceError(w, "failed to get session", err)
		return
	}

	s.jsonResponse(w, http.StatusOK, sess.View())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.serviceError(w, "failed to delete session", err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"deleted": true,
	})
}

func (s *Server) handleUpdateSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
	}
	if err := decodeBody(r, &req, false); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	sess, err := s.sessions.UpdateSource(r.Context(), r.PathValue("id"), req.Source)
	s.sessionResponse(w, sess, err, "failed to update source")
}

func (s *Server) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Language string `json:"language"`
	}
	if err := decodeBody(r, &req, false); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	lang, err := runner.ParseLanguage(req.Language)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "unsupported language", err)
		return
	}

	sess, err := s.sessions.SetLanguage(r.Context(), r.PathValue("id"), lang)
	s.sessionResponse(w, sess, err, "failed to set language")
}

func (s *Server) handleClearOutput(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.ClearOutput(r.Context(), r.PathValue("id"))
	s.sessionResponse(w, sess, err, "failed to clear output")
}

// Run handlers

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source *string `json:"source,omitempty"`
		Async  bool    `json:"async,omitempty"`
	}
	if err := decodeBody(r, &req, true); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	id := r.PathValue("id")
	runReq := session.RunRequest{Source: req.Source}

	if req.Async {
		sess, err := s.sessions.RunAsync(r.Context(), id, runReq)
		if err != nil {
			s.serviceError(w, "run failed", err)
			return
		}
		s.jsonResponse(w, http.StatusAccepted, sess.View())
		return
	}

	outcome, err := s.sessions.Run(r.Context(), id, runReq)
	if err != nil {
		s.serviceError(w, "run failed", err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"session": outcome.Session.View(),
		"result":  outcome.Result,
	})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.CancelRun(r.Context(), r.PathValue("id")); err != nil {
		s.serviceError(w, "cancel failed", err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"cancelled": true,
	})
}

// Debug handlers

func (s *Server) handleStartDebug(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.StartDebug(r.Context(), r.PathValue("id"))
	s.sessionResponse(w, sess, err, "failed to start debugger")
}

func (s *Server) handleStepOver(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.StepOver(r.Context(), r.PathValue("id"))
	s.sessionResponse(w, sess, err, "failed to step")
}

func (s *Server) handleStopDebug(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.StopDebug(r.Context(), r.PathValue("id"))
	s.sessionResponse(w, sess, err, "failed to stop debugger")
}

func (s *Server) handleAddBreakpoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Line int `json:"line"`
	}
	if err := decodeBody(r, &req, false); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	sess, err := s.sessions.AddBreakpoint(r.Context(), r.PathValue("id"), req.Line)
	s.sessionResponse(w, sess, err, "failed to add breakpoint")
}

func (s *Server) handleRemoveBreakpoint(w http.ResponseWriter, r *http.Request) {
	line, err := strconv.Atoi(r.PathValue("line"))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "line must be a number", err)
		return
	}

	sess, err := s.sessions.RemoveBreakpoint(r.Context(), r.PathValue("id"), line)
	s.sessionResponse(w, sess, err, "failed to remove breakpoint")
}

func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &req, false); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	sess, err := s.sessions.AddWatch(r.Context(), r.PathValue("id"), req.Name)
	s.sessionResponse(w, sess, err, "failed to add watch")
}

func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.RemoveWatch(r.Context(), r.PathValue("id"), r.PathValue("name"))
	s.sessionResponse(w, sess, err, "failed to remove watch")
}

// Helper methods

func (s *Server) sessionResponse(w http.ResponseWriter, sess *session.Session, err error, message string) {
	if err != nil {
		s.serviceError(w, message, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess.View())
}

// serviceError maps session errors onto HTTP status codes
func (s *Server) serviceError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		s.jsonError(w, http.StatusNotFound, "session not found", nil)
	case errors.Is(err, session.ErrEmptySource),
		errors.Is(err, session.ErrInvalidLine),
		errors.Is(err, session.ErrEmptyWatch),
		errors.Is(err, runner.ErrUnsupportedLanguage):
		s.jsonError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, session.ErrRunInProgress),
		errors.Is(err, session.ErrDebugActive),
		errors.Is(err, session.ErrNotDebugging),
		errors.Is(err, session.ErrNoRunInFlight):
		s.jsonError(w, http.StatusConflict, message, err)
	case errors.Is(err, context.Canceled):
		s.jsonError(w, http.StatusConflict, "run cancelled", err)
	case errors.Is(err, session.ErrRunRejected):
		s.jsonError(w, http.StatusServiceUnavailable, message, err)
	default:
		s.jsonError(w, http.StatusInternalServerError, message, err)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data)
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	writeJSON(w, status, response)
}

// decodeBody decodes a JSON request body. With optional set an empty body
// leaves v untouched.
func decodeBody(r *http.Request, v interface{}, optional bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if strings.TrimSpace(string(body)) == "" {
		if optional {
			return nil
		}
		return errors.New("request body is empty")
	}
	return json.Unmarshal(body, v)
}
