package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/botlhale/IBSDSD2CA-Mapping/internal/domain"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/mapping"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	engine    *mapping.Engine
	version   string
	reportTTL time.Duration
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *mapping.Engine, version string) *Handler {
	return &Handler{
		repo:      repo,
		cache:     cache,
		bus:       bus,
		engine:    engine,
		version:   version,
		reportTTL: time.Hour,
	}
}

// GenerateRequest is the request body for POST /reports/{variant}.
type GenerateRequest struct {
	// Data maps GQ integer codes to reported values.
	Data   map[int]float64 `json:"data"`
	Source string          `json:"source,omitempty"`
}

// GenerateReport handles POST /reports/{variant}: synchronous generation.
func (h *Handler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	variant := domain.ReportVariant(chi.URLParam(r, "variant"))
	if !variant.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown report variant: " + string(variant),
		})
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Data == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "data is required",
		})
		return
	}

	dataset := domain.SourceDataset(req.Data)
	fingerprint := domain.Fingerprint(variant, dataset)

	// Identical filings are served from cache.
	if h.cache != nil {
		if cached, err := h.cache.GetReport(ctx, fingerprint); err == nil && cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	run := &domain.ReportRun{
		ID:          uuid.New().String(),
		Variant:     variant,
		Source:      req.Source,
		Status:      domain.RunStatusCompleted,
		GeneratedAt: time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}

	records, err := h.engine.GenerateReport(dataset, variant)
	if err != nil {
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
		if h.repo != nil {
			if saveErr := h.repo.SaveRun(ctx, run); saveErr != nil {
				slog.Error("failed to save run", "run_id", run.ID, "error", saveErr)
			}
		}
		slog.Error("report generation failed",
			"run_id", run.ID,
			"variant", variant,
			"error", err,
		)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
			"runId": run.ID,
		})
		return
	}

	run.Records = records
	run.Summary = mapping.Summarize(records, 5)
	for _, finding := range h.engine.ValidateRules(dataset.Codes()) {
		if finding.Variant == variant {
			run.Findings = append(run.Findings, finding.Message())
		}
	}

	if h.repo != nil {
		if err := h.repo.SaveRun(ctx, run); err != nil {
			slog.Error("failed to save run", "run_id", run.ID, "error", err)
		}
	}
	if h.cache != nil {
		if err := h.cache.SetReport(ctx, fingerprint, run, h.reportTTL); err != nil {
			slog.Warn("failed to cache report", "run_id", run.ID, "error", err)
		}
		_, _ = h.cache.IncrementCounter(ctx, "reports:"+string(variant), 24*time.Hour)
	}
	if h.bus != nil {
		payload, _ := json.Marshal(worker.ReportResult{
			RunID:   run.ID,
			Variant: variant,
			Status:  run.Status,
		})
		if err := h.bus.Publish(ctx, domain.TopicReportGenerated, payload); err != nil {
			slog.Warn("failed to publish result", "run_id", run.ID, "error", err)
		}
	}

	slog.Info("report generated",
		"run_id", run.ID,
		"variant", variant,
		"records", len(run.Records),
		"findings", len(run.Findings),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	writeJSON(w, http.StatusOK, run)
}

// GenerateReportAsync handles POST /reports/{variant}/async: queues generation
// on the event bus and returns the run ID immediately.
func (h *Handler) GenerateReportAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	variant := domain.ReportVariant(chi.URLParam(r, "variant"))
	if !variant.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown report variant: " + string(variant),
		})
		return
	}

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Data == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "data is required",
		})
		return
	}

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	runID := uuid.New().String()
	payload, _ := json.Marshal(worker.ReportRequest{
		RunID:   runID,
		Variant: variant,
		Dataset: req.Data,
		Source:  req.Source,
	})

	if err := h.bus.Publish(ctx, domain.TopicReportRequested, payload); err != nil {
		slog.Error("failed to publish report request", "run_id", runID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to queue report request",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"runId":   runID,
		"variant": string(variant),
		"status":  string(domain.RunStatusPending),
	})
}

// ValidateRequest is the request body for POST /validate.
type ValidateRequest struct {
	Data map[int]float64 `json:"data"`
}

// Validate handles POST /validate: pre-flight check that every code
// referenced by the loaded rules is present in the submitted dataset.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.Data == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "data is required",
		})
		return
	}

	dataset := domain.SourceDataset(req.Data)
	findings := h.engine.ValidateRules(dataset.Codes())

	messages := make([]string, 0, len(findings))
	for _, f := range findings {
		messages = append(messages, f.Message())
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"findings": findings,
			"complete": len(findings) == 0,
		})
		if err := h.bus.Publish(ctx, domain.TopicValidationCompleted, payload); err != nil {
			slog.Warn("failed to publish validation result", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"complete": len(findings) == 0,
		"findings": findings,
		"messages": messages,
	})
}

// GetRun retrieves a report run by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	if runID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "run id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		slog.Error("failed to get run", "id", runID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// ListRuns retrieves recent runs, optionally filtered by variant.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	variant := domain.ReportVariant(r.URL.Query().Get("variant"))
	if variant != "" && !variant.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown report variant: " + string(variant),
		})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	runs, err := h.repo.ListRuns(ctx, variant, limit)
	if err != nil {
		slog.Error("failed to list runs", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// ListRules returns the rules currently loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.engine.Rules()

	counts := make(map[string]int, len(rules))
	for variant, list := range rules {
		counts[string(variant)] = len(list)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  rules,
		"counts": counts,
	})
}

// ListVariantRules returns the loaded rules for a single report variant.
func (h *Handler) ListVariantRules(w http.ResponseWriter, r *http.Request) {
	variant := domain.ReportVariant(chi.URLParam(r, "variant"))
	if !variant.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown report variant: " + string(variant),
		})
		return
	}

	rules := h.engine.Rules()[variant]
	writeJSON(w, http.StatusOK, map[string]any{
		"variant": variant,
		"rules":   rules,
		"count":   len(rules),
	})
}

// ReloadRules reloads mapping rules from the repository into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	ruleSet, err := h.repo.ListAllMappingRules(ctx)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.Reload(ruleSet); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrConfiguration) {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", h.engine.RuleCount())
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.engine.RuleCount(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
