// Package server exposes the fact base over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/factbase/internal/baseline"
	"github.com/sells-group/factbase/internal/config"
	"github.com/sells-group/factbase/internal/extract"
	"github.com/sells-group/factbase/internal/findings"
	"github.com/sells-group/factbase/internal/health"
	"github.com/sells-group/factbase/internal/materialize"
	"github.com/sells-group/factbase/internal/model"
	"github.com/sells-group/factbase/internal/propose"
	"github.com/sells-group/factbase/internal/review"
	"github.com/sells-group/factbase/internal/store"
)

// maxBodyBytes caps request bodies; raw importer results can be large.
const maxBodyBytes = 8 << 20

// Deps are the services behind the routes.
type Deps struct {
	Store        store.Store
	Engine       *propose.Engine
	Extractors   *extract.Registry
	Scheduler    *baseline.Scheduler
	Materializer *materialize.Materializer
	Health       *health.Evaluator
	Review       *review.Service
	Promoter     *findings.Promoter
}

// Server routes HTTP requests to the fact base services.
type Server struct {
	deps    Deps
	cfg     config.ServerConfig
	limiter *rate.Limiter
	log     *zap.Logger
}

// New creates a Server. A non-positive rate limit disables limiting.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Extractors == nil {
		deps.Extractors = extract.DefaultRegistry()
	}
	s := &Server{
		deps: deps,
		cfg:  cfg,
		log:  zap.L().With(zap.String("component", "server")),
	}
	if cfg.RateLimitPerSec > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), burst)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Get("/entities", s.handleListEntities)
		r.Route("/entities/{entityID}", func(r chi.Router) {
			r.Get("/fields", s.handleGetFields)
			r.Get("/graph", s.handleGetGraph)
			r.Get("/health", s.handleHealth)
			r.Post("/proposals", s.handlePropose)
			r.Post("/runs", s.handleCreateRun)
			r.Post("/baseline", s.handleBaseline)
			r.Post("/confirm", s.handleDecision(true))
			r.Post("/reject", s.handleDecision(false))
			r.Post("/materialize", s.handleMaterialize)
			r.Post("/findings/promote", s.handlePromote)
		})
	})

	return r
}

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("server shutdown", zap.Error(err))
		}
	}()

	s.log.Info("starting server", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if err := s.deps.Store.Ping(r.Context()); err != nil {
		s.log.Warn("store ping failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	ids, err := s.deps.Store.ListEntities(r.Context())
	if err != nil {
		s.internalError(w, "list entities", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": ids})
}

func (s *Server) handleGetFields(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entityID")
	fs, err := s.deps.Store.LoadFieldStore(r.Context(), id)
	if err != nil {
		s.internalError(w, "load field store", err)
		return
	}
	if fs == nil {
		writeError(w, http.StatusNotFound, "no field store for "+id)
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "entityID")
	g, err := s.deps.Store.LoadGraph(r.Context(), id)
	if err != nil {
		s.internalError(w, "load graph", err)
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "no graph for "+id)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health.ComputeHealthStatus(r.Context(), chi.URLParam(r, "entityID")))
}

type proposeRequest struct {
	ImporterID string            `json:"importer_id"`
	Source     string            `json:"source"`
	SourceID   string            `json:"source_id"`
	Raw        json.RawMessage   `json:"raw"`
	Candidates []model.Candidate `json:"candidates"`
}

type proposeResponse struct {
	Outcome        *model.ProposalOutcome `json:"outcome"`
	ExtractionPath string                 `json:"extraction_path,omitempty"`
	Skipped        *extract.Skipped       `json:"skipped,omitempty"`
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req proposeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ImporterID == "" {
		writeError(w, http.StatusBadRequest, "importer_id is required")
		return
	}

	preq := propose.Request{
		EntityID:   chi.URLParam(r, "entityID"),
		ImporterID: req.ImporterID,
		Source:     req.Source,
		SourceID:   req.SourceID,
		Candidates: req.Candidates,
	}
	resp := proposeResponse{}
	if len(req.Raw) > 0 {
		ext, ok := s.deps.Extractors.Get(req.ImporterID)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown importer "+req.ImporterID)
			return
		}
		res := ext.Extract(req.Raw)
		preq.Candidates = append(preq.Candidates, res.Candidates...)
		preq.ExtractionPath = res.ExtractionPath
		resp.ExtractionPath = res.ExtractionPath
		resp.Skipped = &res.Skipped
	}

	out, err := s.deps.Engine.ProposeE(r.Context(), preq)
	resp.Outcome = out
	if err != nil {
		s.log.Warn("propose failed", zap.String("entity_id", preq.EntityID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type createRunRequest struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Status    model.RunStatus `json:"status"`
	RawResult json.RawMessage `json:"raw_result"`
	// Baseline triggers an auto-propose for the new run when it is complete.
	Baseline bool `json:"baseline"`
}

type createRunResponse struct {
	Run      *model.Run       `json:"run"`
	Baseline *baseline.Result `json:"baseline,omitempty"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	run := &model.Run{
		ID:        req.ID,
		EntityID:  chi.URLParam(r, "entityID"),
		Kind:      req.Kind,
		Status:    req.Status,
		RawResult: req.RawResult,
	}
	if err := s.deps.Store.CreateRun(r.Context(), run); err != nil {
		s.internalError(w, "create run", err)
		return
	}

	resp := createRunResponse{Run: run}
	if req.Baseline && run.Status == model.RunStatusComplete && s.deps.Scheduler != nil {
		res := s.deps.Scheduler.AutoProposeBaselineIfNeeded(r.Context(), baseline.Trigger{
			EntityID:    run.EntityID,
			TriggeredBy: "run_completed",
			RunID:       run.ID,
			ImporterID:  run.Kind,
		})
		resp.Baseline = &res
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleBaseline(w http.ResponseWriter, r *http.Request) {
	var t baseline.Trigger
	if !decode(w, r, &t) {
		return
	}
	t.EntityID = chi.URLParam(r, "entityID")
	if t.TriggeredBy == "" {
		t.TriggeredBy = "api"
	}
	writeJSON(w, http.StatusOK, s.deps.Scheduler.AutoProposeBaselineIfNeeded(r.Context(), t))
}

type decisionRequest struct {
	Keys  []string `json:"keys"`
	Actor string   `json:"actor"`
}

func (s *Server) handleDecision(confirm bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decisionRequest
		if !decode(w, r, &req) {
			return
		}
		if len(req.Keys) == 0 {
			writeError(w, http.StatusBadRequest, "keys are required")
			return
		}
		if req.Actor == "" {
			writeError(w, http.StatusBadRequest, "actor is required")
			return
		}

		id := chi.URLParam(r, "entityID")
		var (
			res *review.Result
			err error
		)
		if confirm {
			res, err = s.deps.Review.ConfirmFields(r.Context(), id, req.Keys, req.Actor)
		} else {
			res, err = s.deps.Review.RejectFields(r.Context(), id, req.Keys, req.Actor)
		}
		if err != nil {
			s.internalError(w, "review fields", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleMaterialize(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Materializer.MaterializeConfirmedToGraph(r.Context(), chi.URLParam(r, "entityID"))
	if err != nil {
		s.internalError(w, "materialize", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type promoteRequest struct {
	Finding    model.Finding `json:"finding"`
	Targets    []string      `json:"targets"`
	Actor      string        `json:"actor"`
	Confidence float64       `json:"confidence"`
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req promoteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Actor == "" {
		writeError(w, http.StatusBadRequest, "actor is required")
		return
	}
	res, err := s.deps.Promoter.Promote(r.Context(), chi.URLParam(r, "entityID"), req.Finding, req.Targets, req.Actor, req.Confidence)
	if err != nil {
		if errors.Is(err, findings.ErrNoTargets) {
			writeError(w, http.StatusBadRequest, "finding has no target fields")
			return
		}
		s.internalError(w, "promote finding", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
