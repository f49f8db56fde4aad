// Package control serves the local HTTP API used by the settings window.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/idlergb/internal/color"
	"github.com/dokzlo13/idlergb/internal/coordinator"
	"github.com/dokzlo13/idlergb/internal/ledger"
	"github.com/dokzlo13/idlergb/internal/monitor"
	"github.com/dokzlo13/idlergb/internal/settings"
	"github.com/dokzlo13/idlergb/internal/sink"
)

// Lighting is the coordinator surface exposed over HTTP.
type Lighting interface {
	Snapshot() coordinator.Snapshot
	TakeControl() (string, error)
	Preview(token string, c color.RGB) error
	RenewControl(token string) error
	ReleaseControl(token string) error
}

// SettingsStore reads and saves settings.
type SettingsStore interface {
	Get() (settings.Settings, error)
	Save(next settings.Settings, autoStart *bool) error
	AutoStart() settings.AutoStart
}

// Devices reports connected device roles.
type Devices interface {
	Bound() bool
	Connectivity() sink.Connectivity
}

// Phaser reports the SDK monitor phase.
type Phaser interface {
	Phase() monitor.Phase
}

// History returns recent ledger entries.
type History interface {
	GetRecent(limit int) ([]*ledger.Entry, error)
}

// Deps are the collaborators behind the API. History may be nil.
type Deps struct {
	Lighting Lighting
	Settings SettingsStore
	Devices  Devices
	Monitor  Phaser
	History  History
	Hub      *Hub
}

// Options configures the server.
type Options struct {
	Host           string
	Port           int
	AllowedOrigins []string
	PreviewRate    float64 // Preview writes per second
}

// Server is the control API server.
type Server struct {
	addr    string
	deps    Deps
	opts    Options
	limiter *rate.Limiter
	started time.Time

	httpServer *http.Server
}

// NewServer creates a control server.
func NewServer(opts Options, deps Deps) *Server {
	if opts.PreviewRate <= 0 {
		opts.PreviewRate = 20
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(opts.AllowedOrigins)
	}
	burst := int(opts.PreviewRate)
	if burst < 1 {
		burst = 1
	}
	return &Server{
		addr:    fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		deps:    deps,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.PreviewRate), burst),
		started: time.Now(),
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost", "http://127.0.0.1"}
	}
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}).Handler)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/settings", s.handleGetSettings)
	r.Put("/settings", s.handlePutSettings)
	r.Get("/history", s.handleHistory)

	r.Route("/control", func(r chi.Router) {
		r.Post("/", s.handleTakeControl)
		r.Post("/{token}/preview", s.handlePreview)
		r.Put("/{token}", s.handleRenewControl)
		r.Delete("/{token}", s.handleReleaseControl)
	})

	r.Get("/ws", s.deps.Hub.ServeHTTP)

	return r
}

// Run starts the server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting control API server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.deps.Hub.Close()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Control API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

type statusResponse struct {
	State      coordinator.State `json:"state"`
	Color      *color.RGB        `json:"color,omitempty"`
	Overridden bool              `json:"overridden"`
	IdleFor    string            `json:"idle_for"`
	Phase      string            `json:"sdk_phase"`
	Bound      bool              `json:"sdk_bound"`
	Devices    sink.Connectivity `json:"devices"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Lighting.Snapshot()
	resp := statusResponse{
		State:      snap.State,
		Color:      snap.Color,
		Overridden: snap.Overridden,
		IdleFor:    snap.IdleFor.Round(time.Second).String(),
		Bound:      s.deps.Devices.Bound(),
		Devices:    s.deps.Devices.Connectivity(),
	}
	if s.deps.Monitor != nil {
		resp.Phase = s.deps.Monitor.Phase().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type settingsResponse struct {
	Settings  settings.Settings  `json:"settings"`
	AutoStart settings.AutoStart `json:"autostart"`
}

type settingsRequest struct {
	Settings  settings.Settings `json:"settings"`
	AutoStart *bool             `json:"autostart,omitempty"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.deps.Settings.Get()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load settings")
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{
		Settings:  current,
		AutoStart: s.deps.Settings.AutoStart(),
	})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := s.deps.Settings.Save(req.Settings, req.AutoStart); err != nil {
		if errors.Is(err, settings.ErrInvalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("Failed to save settings")
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	writeJSON(w, http.StatusOK, settingsResponse{
		Settings:  req.Settings,
		AutoStart: s.deps.Settings.AutoStart(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, http.StatusOK, []*ledger.Entry{})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}

	entries, err := s.deps.History.GetRecent(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to read history")
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleTakeControl(w http.ResponseWriter, r *http.Request) {
	token, err := s.deps.Lighting.TakeControl()
	if err != nil {
		writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"token": token})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "preview rate exceeded")
		return
	}

	var body struct {
		Color color.RGB `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := s.deps.Lighting.Preview(chi.URLParam(r, "token"), body.Color); err != nil {
		writeControlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRenewControl(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Lighting.RenewControl(chi.URLParam(r, "token")); err != nil {
		writeControlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReleaseControl(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Lighting.ReleaseControl(chi.URLParam(r, "token")); err != nil {
		writeControlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrControlHeld):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, coordinator.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// requestLogger logs each request through zerolog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("Control API request")
	})
}
