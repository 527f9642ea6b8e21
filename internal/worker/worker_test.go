package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/botlhale/IBSDSD2CA-Mapping/internal/bus"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/cache"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/domain"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/mapping"
)

func testEngine(t *testing.T) *mapping.Engine {
	t.Helper()
	engine, err := mapping.New(domain.RuleSet{
		domain.VariantLBSR: {
			{TargetCode: "CAF", Formula: "201+208+(17-517)+230", Description: "Claims on foreign banks"},
			{TargetCode: "CGB", Formula: "4+376", Description: "Claims on general government"},
		},
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func testDataset() map[int]float64 {
	return map[int]float64{
		4: 100, 17: 50, 201: 200, 208: 150, 230: 45, 376: 250, 517: 20,
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	engine := testEngine(t)
	reportCache := cache.NewLRUCache(100)

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, nil, reportCache, engine)

		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessRequest", func(t *testing.T) {
		w := NewWorker(eventBus, nil, reportCache, engine)
		w.Start(Config{})
		defer w.Stop()

		// Track generated results
		var resultReceived atomic.Bool
		var resultPayload []byte

		eventBus.Subscribe(context.Background(), domain.TopicReportGenerated, func(ctx context.Context, msg *domain.Message) error {
			resultPayload = msg.Payload
			resultReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		req := ReportRequest{
			RunID:   "run-001",
			Variant: domain.VariantLBSR,
			Dataset: testDataset(),
			Source:  "gq_return_2026q2.csv",
		}

		payload, _ := json.Marshal(req)
		if err := eventBus.Publish(context.Background(), domain.TopicReportRequested, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(100 * time.Millisecond)

		if !resultReceived.Load() {
			t.Fatal("expected generated result to be published")
		}

		var result ReportResult
		if err := json.Unmarshal(resultPayload, &result); err != nil {
			t.Fatalf("failed to parse result: %v", err)
		}
		if result.RunID != "run-001" {
			t.Errorf("expected runID 'run-001', got '%s'", result.RunID)
		}
		if result.Status != domain.RunStatusCompleted {
			t.Errorf("expected status completed, got '%s'", result.Status)
		}

		// Report should be cached by fingerprint
		fingerprint := domain.Fingerprint(domain.VariantLBSR, domain.SourceDataset(testDataset()))
		cached, err := reportCache.GetReport(context.Background(), fingerprint)
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}
		if cached == nil {
			t.Fatal("expected report cached by fingerprint")
		}
		if len(cached.Records) != 2 {
			t.Errorf("expected 2 records, got %d", len(cached.Records))
		}
		if cached.Records[0].Code != "CAF" || cached.Records[0].Value != 425 {
			t.Errorf("unexpected first record: %+v", cached.Records[0])
		}
	})

	t.Run("FailedRunPublished", func(t *testing.T) {
		w := NewWorker(eventBus, nil, reportCache, engine)
		w.Start(Config{})
		defer w.Stop()

		var failedReceived atomic.Bool
		var failedPayload []byte

		eventBus.Subscribe(context.Background(), domain.TopicReportFailed, func(ctx context.Context, msg *domain.Message) error {
			failedPayload = msg.Payload
			failedReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// Unknown variant triggers a failed run
		req := ReportRequest{
			RunID:   "run-bad",
			Variant: "cbs",
			Dataset: testDataset(),
		}
		payload, _ := json.Marshal(req)
		eventBus.Publish(context.Background(), domain.TopicReportRequested, payload)

		time.Sleep(100 * time.Millisecond)

		if !failedReceived.Load() {
			t.Fatal("expected failed result to be published")
		}

		var result ReportResult
		if err := json.Unmarshal(failedPayload, &result); err != nil {
			t.Fatalf("failed to parse result: %v", err)
		}
		if result.Status != domain.RunStatusFailed {
			t.Errorf("expected status failed, got '%s'", result.Status)
		}
		if result.Error == "" {
			t.Error("expected error message on failed run")
		}
	})
}

func TestReportRequestParsing(t *testing.T) {
	req := ReportRequest{
		RunID:   "run-123",
		Variant: domain.VariantLBSN,
		Dataset: map[int]float64{4: 100.5, 376: 250},
		Source:  "gq_return.csv",
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed ReportRequest
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.RunID != req.RunID {
		t.Errorf("expected RunID '%s', got '%s'", req.RunID, parsed.RunID)
	}
	if parsed.Variant != req.Variant {
		t.Errorf("expected Variant '%s', got '%s'", req.Variant, parsed.Variant)
	}
	if parsed.Dataset[4] != 100.5 {
		t.Errorf("expected dataset value 100.5, got %v", parsed.Dataset[4])
	}
}
