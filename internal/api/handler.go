// Package api is the JSON-over-HTTP transport for the kernel entry points.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/programhealth/internal/actor"
	"github.com/roach88/programhealth/internal/emission"
	"github.com/roach88/programhealth/internal/ir"
	"github.com/roach88/programhealth/internal/isolation"
	"github.com/roach88/programhealth/internal/metrics"
	"github.com/roach88/programhealth/internal/moduleruntime"
	"github.com/roach88/programhealth/internal/rationale"
	"github.com/roach88/programhealth/internal/readmodel"
)

// Emitter is the emission gateway.
type Emitter interface {
	Emit(ctx context.Context, req emission.Request) (ir.EmitResult, error)
}

// ViewReader reads Program Health views.
type ViewReader interface {
	ReadProgramHealthView(ctx context.Context, programID string) (*readmodel.View, error)
}

// ImpactReader is the M3 read surface.
type ImpactReader interface {
	State(ctx context.Context, t moduleruntime.Target) (ir.ModuleRuntimeState, error)
	Impacts(ctx context.Context, t moduleruntime.Target, horizon *ir.Horizon) ([]ir.ImpactRecord, error)
}

// IsolationRunner runs the isolation diagnostic.
type IsolationRunner interface {
	Run(ctx context.Context, req isolation.Request) isolation.Report
}

// Deps are the services the handler routes to.
type Deps struct {
	Emitter   Emitter
	Views     ViewReader
	M3        ImpactReader
	Isolation IsolationRunner
	Tokens    *actor.Verifier // nil disables bearer identity
	Rationale rationale.Options
	Logger    *slog.Logger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &Handler{deps: deps, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/program-health/emissions", h.emit)
	h.mux.HandleFunc("GET /v1/programs/{id}/health", h.view)
	h.mux.HandleFunc("GET /v1/m3/state", h.m3State)
	h.mux.HandleFunc("GET /v1/m3/impacts", h.m3Impacts)
	h.mux.HandleFunc("POST /v1/diagnostics/m3-isolation", h.isolation)
	h.mux.HandleFunc("POST /v1/rationale/validate", h.validateRationale)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h.logRequests(h.identify(h.mux))
}

// identify binds the bearer-token actor to the request context.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok, err := h.deps.Tokens.FromRequest(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if ok {
			r = r.WithContext(actor.WithActor(r.Context(), a))
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.deps.Logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// POST /v1/program-health/emissions: append and project one event.
func (h *Handler) emit(w http.ResponseWriter, r *http.Request) {
	var req emission.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	res, err := h.deps.Emitter.Emit(r.Context(), req)
	if err != nil {
		writeKernelError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Deduplicated {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

// GET /v1/programs/{id}/health: the Program Health view.
func (h *Handler) view(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.Views.ReadProgramHealthView(r.Context(), r.PathValue("id"))
	if err != nil {
		writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func targetFrom(r *http.Request) moduleruntime.Target {
	q := r.URL.Query()
	return moduleruntime.Target{ProgramID: q.Get("programId"), TeamID: q.Get("teamId")}
}

// GET /v1/m3/state?programId=|teamId=: module runtime state.
func (h *Handler) m3State(w http.ResponseWriter, r *http.Request) {
	state, err := h.deps.M3.State(r.Context(), targetFrom(r))
	if err != nil {
		writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// GET /v1/m3/impacts?programId=|teamId=&horizon=: persisted impacts, empty
// unless the module is available.
func (h *Handler) m3Impacts(w http.ResponseWriter, r *http.Request) {
	var horizon *ir.Horizon
	if raw := r.URL.Query().Get("horizon"); raw != "" {
		parsed, err := ir.ParseHorizon(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		horizon = &parsed
	}

	t := targetFrom(r)
	state, err := h.deps.M3.State(r.Context(), t)
	if err != nil {
		writeKernelError(w, err)
		return
	}
	impacts, err := h.deps.M3.Impacts(r.Context(), t, horizon)
	if err != nil {
		writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":    state.Mode,
		"impacts": impacts,
	})
}

// POST /v1/diagnostics/m3-isolation: cross-module isolation check.
func (h *Handler) isolation(w http.ResponseWriter, r *http.Request) {
	var req isolation.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Isolation.Run(r.Context(), req))
}

type rationaleRequest struct {
	Text            string `json:"text"`
	RequireTemporal *bool  `json:"requireTemporal,omitempty"`
	MaxLength       int    `json:"maxLength,omitempty"`
}

// POST /v1/rationale/validate: check text against the rationale contract.
func (h *Handler) validateRationale(w http.ResponseWriter, r *http.Request) {
	var req rationaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	opts := h.deps.Rationale
	if req.RequireTemporal != nil {
		opts.RequireTemporal = *req.RequireTemporal
	}
	if req.MaxLength > 0 {
		opts.MaxLength = req.MaxLength
	}

	res := rationale.Validate(req.Text, opts)
	result := "accepted"
	if !res.OK {
		result = "rejected"
	}
	metrics.RationaleChecks.WithLabelValues(result).Inc()
	writeJSON(w, http.StatusOK, res)
}

// GET /healthz: always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
