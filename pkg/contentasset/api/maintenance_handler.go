package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

// MaintenanceHandler exposes leak retries and the unreferenced-asset sweep
type MaintenanceHandler struct {
	sweeper *contentasset.Sweeper
	grace   time.Duration
	logger  *slog.Logger
}

// NewMaintenanceHandler creates a maintenance handler. grace is used when a
// request does not name one.
func NewMaintenanceHandler(sweeper *contentasset.Sweeper, grace time.Duration, logger *slog.Logger) *MaintenanceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceHandler{sweeper: sweeper, grace: grace, logger: logger}
}

// Routes returns the maintenance routes
func (h *MaintenanceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/sweep", h.Sweep)
	return r
}

// SweepRequest is the optional body of a sweep
type SweepRequest struct {
	Grace      string `json:"grace,omitempty"`
	DryRun     bool   `json:"dry_run,omitempty"`
	RetryLimit int    `json:"retry_limit,omitempty"`
}

// SweepResponse reports both passes of a sweep
type SweepResponse struct {
	Retry *contentasset.RetryReport `json:"retry,omitempty"`
	Sweep *contentasset.SweepReport `json:"sweep"`
}

// Sweep retries recorded leaks, then deletes unreferenced assets older than
// the grace period. A dry run skips the retry and deletes nothing.
func (h *MaintenanceHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	var req SweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, r, "invalid request body")
		return
	}
	grace := h.grace
	if req.Grace != "" {
		d, err := time.ParseDuration(req.Grace)
		if err != nil || d < 0 {
			badRequest(w, r, "invalid grace duration")
			return
		}
		grace = d
	}
	if err := contentasset.CheckSweepGrace(grace); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	var resp SweepResponse
	if !req.DryRun {
		retry, err := h.sweeper.RetryLeaks(r.Context(), req.RetryLimit)
		if err != nil {
			writeError(w, r, h.logger, "Leak retry failed", err)
			return
		}
		resp.Retry = retry
	}
	sweep, err := h.sweeper.SweepUnreferenced(r.Context(), grace, req.DryRun)
	if err != nil {
		writeError(w, r, h.logger, "Sweep failed", err)
		return
	}
	resp.Sweep = sweep

	h.logger.InfoContext(r.Context(), "Maintenance sweep finished",
		"grace", grace, "dry_run", req.DryRun, "candidates", len(sweep.Candidates), "deleted", len(sweep.Deleted))
	render.JSON(w, r, resp)
}
