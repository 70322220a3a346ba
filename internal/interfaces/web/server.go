// Package web serves the operator HTTP API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/example/availability-orchestrator/internal/application/regeneration"
	"github.com/example/availability-orchestrator/internal/domain/availability"
	"github.com/example/availability-orchestrator/internal/logging"
)

// StaleTracker is the change detector surface the API uses.
type StaleTracker interface {
	RecordChange(ctx context.Context, restaurantID string, kind availability.ChangeKind, action availability.ChangeAction, details any) (string, error)
	Clear(ctx context.Context, restaurantID string) error
	CurrentState(restaurantID string) availability.StaleFlag
}

// Regenerator is the coordinator surface the API uses.
type Regenerator interface {
	Run(ctx context.Context, mode availability.Mode, restaurantID string, start, end time.Time) (availability.RegenerationOutcome, error)
	RunWithProtection(ctx context.Context, r regeneration.ProtectedRun) (availability.RegenerationOutcome, []availability.ReservationConflict, error)
	LastOutcome(ctx context.Context, restaurantID string) (availability.RegenerationOutcome, bool, error)
	DefaultPeriod(ctx context.Context, restaurantID string, loc *time.Location, fallbackDays int) (availability.Period, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Stale     StaleTracker
	Regen     Regenerator
	Protector regeneration.ConflictProtector
	// Schedules supplies the current weekly hours when a request omits them.
	Schedules availability.ScheduleSource
	Metrics   http.Handler
	Health    map[string]HealthCheck
	Location  *time.Location
	// HorizonDays is the default period length when a request has no dates
	// and the policy has no horizon.
	HorizonDays int
	Logger      *zap.Logger
}

type Server struct {
	opts   Options
	logger *zap.Logger
}

func New(opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 30
	}
	return &Server{opts: opts, logger: logging.OrNop(opts.Logger)}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/restaurants/{restaurantID}", func(r chi.Router) {
		r.Get("/stale", s.handleGetStale)
		r.Delete("/stale", s.handleClearStale)
		r.Post("/changes", s.handleRecordChange)
		r.Post("/regenerations", s.handleRegenerate)
		r.Get("/regenerations/last", s.handleLastOutcome)
		r.Post("/schedule/conflicts", s.handleFindConflicts)
		r.Post("/schedule/protect", s.handleProtect)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := map[string]string{}
	for name, check := range s.opts.Health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	body := map[string]any{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

type errorBody struct {
	Error   string   `json:"error"`
	Code    string   `json:"code,omitempty"`
	Hint    string   `json:"hint,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeRunError maps a run failure to its status code.
func writeRunError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error(), Code: availability.CodeOf(err)}
	var rerr *availability.RegenerationError
	if errors.As(err, &rerr) {
		body.Hint = rerr.Hint
		body.Missing = rerr.Missing
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, availability.ErrInvalidPeriod):
		status = http.StatusBadRequest
	case errors.Is(err, availability.ErrPolicyIncomplete),
		errors.Is(err, availability.ErrNoActiveTables),
		errors.Is(err, availability.ErrNoOpenDays),
		errors.Is(err, availability.ErrAGSRejected):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, availability.ErrAGSUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
