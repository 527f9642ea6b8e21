// Package worker provides async report generation for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/botlhale/IBSDSD2CA-Mapping/internal/domain"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/mapping"
)

// Worker processes report requests asynchronously from the EventBus.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	cache  domain.Cache
	engine *mapping.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// ReportTTL is how long generated reports stay cached by fingerprint.
	ReportTTL time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, engine *mapping.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		cache:  cache,
		engine: engine,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the report request topic.
func (w *Worker) Start(cfg Config) error {
	ttl := cfg.ReportTTL
	if ttl == 0 {
		ttl = time.Hour
	}

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicReportRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processRequest(ctx, msg, ttl)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", domain.TopicReportRequested,
	)

	return nil
}

// ReportRequest is the message payload for async report generation.
type ReportRequest struct {
	RunID   string               `json:"runId"`
	Variant domain.ReportVariant `json:"variant"`
	Dataset map[int]float64      `json:"dataset"`
	Source  string               `json:"source,omitempty"`
}

// ReportResult is published on completion or failure.
type ReportResult struct {
	RunID   string               `json:"runId"`
	Variant domain.ReportVariant `json:"variant"`
	Status  domain.RunStatus     `json:"status"`
	Error   string               `json:"error,omitempty"`
}

// processRequest generates one report run end to end.
func (w *Worker) processRequest(ctx context.Context, msg *domain.Message, ttl time.Duration) error {
	start := time.Now()

	var req ReportRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse report request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	runID := req.RunID
	if runID == "" {
		runID = msg.ID
	}
	dataset := domain.SourceDataset(req.Dataset)

	slog.Debug("processing report request",
		"run_id", runID,
		"variant", req.Variant,
		"codes", len(dataset),
	)

	run := &domain.ReportRun{
		ID:          runID,
		Variant:     req.Variant,
		Source:      req.Source,
		Status:      domain.RunStatusCompleted,
		GeneratedAt: time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}

	records, err := w.engine.GenerateReport(dataset, req.Variant)
	if err != nil {
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
	} else {
		run.Records = records
		run.Summary = mapping.Summarize(records, 5)
		for _, finding := range w.engine.ValidateRules(dataset.Codes()) {
			if finding.Variant == req.Variant {
				run.Findings = append(run.Findings, finding.Message())
			}
		}
	}

	// Persist the run, success or failure, for the audit trail.
	if w.repo != nil {
		if saveErr := w.repo.SaveRun(ctx, run); saveErr != nil {
			slog.Error("failed to save run",
				"run_id", runID,
				"error", saveErr,
			)
		}
	}

	if err != nil {
		w.publishResult(ctx, domain.TopicReportFailed, run)
		slog.Error("report generation failed",
			"run_id", runID,
			"variant", req.Variant,
			"error", err,
		)
		return err
	}

	// Cache by fingerprint so identical filings skip recomputation.
	if w.cache != nil {
		fingerprint := domain.Fingerprint(req.Variant, dataset)
		if cacheErr := w.cache.SetReport(ctx, fingerprint, run, ttl); cacheErr != nil {
			slog.Warn("failed to cache report",
				"run_id", runID,
				"error", cacheErr,
			)
		}
		_, _ = w.cache.IncrementCounter(ctx, "reports:"+string(req.Variant), 24*time.Hour)
	}

	w.publishResult(ctx, domain.TopicReportGenerated, run)

	slog.Info("report generated",
		"run_id", runID,
		"variant", req.Variant,
		"records", len(run.Records),
		"findings", len(run.Findings),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

func (w *Worker) publishResult(ctx context.Context, topic string, run *domain.ReportRun) {
	payload, _ := json.Marshal(ReportResult{
		RunID:   run.ID,
		Variant: run.Variant,
		Status:  run.Status,
		Error:   run.Error,
	})
	if err := w.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish result",
			"run_id", run.ID,
			"topic", topic,
			"error", err,
		)
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
