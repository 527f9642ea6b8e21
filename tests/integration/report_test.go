//go:build integration
// +build integration

// Package integration provides end-to-end tests for the gqmapper service.
//
// These tests verify the COMPLETE conversion pipeline:
//
//	GM_GQ data → Mapping Rules → Formula Evaluation → DSD Report
//
// Run with: go test -tags=integration -v ./tests/integration/...
//
// UNDERSTANDING THE DOMAIN:
//
// 1. GQ CODE: An integer position code from the Canadian GM_GQ return
//    (e.g. 201 = loans to non-bank financial institutions)
//
// 2. MAPPING RULE: Converts GQ codes into one BIS DSD series. Each rule has:
//   - DSD code: The target series identifier (e.g. "CAF")
//   - Formula: Arithmetic over GQ codes, e.g. "201+208+215+221+(17-517)+230"
//
// 3. REPORT VARIANT: Which LBS report to produce:
//   - lbsr: Locational Banking Statistics by Residence
//   - lbsn: Locational Banking Statistics by Nationality
//
// 4. FINDING: A pre-flight warning that a rule references GQ codes absent
//    from the submitted data. Missing codes evaluate as zero.
//
// REQUIRED SETUP: gqmapperd must be running and seeded with the default
// knowledge base (knowledge_base/lbs_mapping_rules.yaml):
//
//	go run cmd/gqmapperd/main.go
//
// The assertions below encode the expected DSD values for the sample
// dataset under those rules.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"os"
	"testing"
	"time"
)

// TestConfig holds test environment configuration
type TestConfig struct {
	BaseURL string
}

func getTestConfig() TestConfig {
	baseURL := os.Getenv("GQMAPPER_TEST_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return TestConfig{BaseURL: baseURL}
}

// ============================================================================
// API Request/Response Types (matching gqmapperd's API contract)
// ============================================================================

// GenerateRequest is the filing sent to POST /reports/{variant}
type GenerateRequest struct {
	Data   map[int]float64 `json:"data"`
	Source string          `json:"source,omitempty"`
}

// OutputRecord is one resolved DSD series in a report
type OutputRecord struct {
	Code        string  `json:"code"`
	Value       float64 `json:"value"`
	Description string  `json:"description"`
	Formula     string  `json:"formula"`
}

// ReportRun is what POST /reports/{variant} returns
type ReportRun struct {
	ID       string         `json:"id"`
	Variant  string         `json:"variant"`
	Status   string         `json:"status"` // "completed", "failed", or "pending"
	Records  []OutputRecord `json:"records"`
	Findings []string       `json:"findings"`
	Summary  struct {
		RecordCount int     `json:"recordCount"`
		TotalValue  float64 `json:"totalValue"`
	} `json:"summary"`
	Error string `json:"error"`
}

// sampleFiling is a complete GM_GQ submission covering every code the
// default knowledge base references.
func sampleFiling() map[int]float64 {
	return map[int]float64{
		4:   100.0,
		6:   1000.0,
		17:  50.0,
		201: 200.0,
		208: 150.0,
		215: 75.0,
		221: 300.0,
		228: 25.0,
		229: 35.0,
		230: 45.0,
		376: 250.0,
		517: 20.0,
	}
}

// ============================================================================
// Test Helper Functions
// ============================================================================

func generate(t *testing.T, config TestConfig, variant string, req GenerateRequest) ReportRun {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}

	httpReq, err := http.NewRequest("POST", config.BaseURL+"/reports/"+variant, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, string(respBody))
	}

	var result ReportRun
	if err := json.Unmarshal(respBody, &result); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, string(respBody))
	}

	return result
}

func findRecord(t *testing.T, run ReportRun, code string) OutputRecord {
	t.Helper()
	for _, rec := range run.Records {
		if rec.Code == code {
			return rec
		}
	}
	t.Fatalf("DSD code %s not found in report (got %d records)", code, len(run.Records))
	return OutputRecord{}
}

func assertValue(t *testing.T, run ReportRun, code string, want float64) {
	t.Helper()
	rec := findRecord(t, run, code)
	if math.Abs(rec.Value-want) > 1e-9 {
		t.Errorf("%s: expected %.2f, got %.2f (formula %q)", code, want, rec.Value, rec.Formula)
	}
}

// ============================================================================
// SCENARIO 1: Complete LBSR Conversion
// ============================================================================

func TestLBSRReport_CompleteFiling(t *testing.T) {
	/*
	   SCENARIO: A complete filing is converted to the residency report.

	   EXPECTED VALUES (default knowledge base):
	   - CAF = 201+208+215+221+(17-517)+230 = 200+150+75+300+30+45 = 800
	   - CGB = 4+376                        = 100+250              = 350
	   - CAD = 228+229+230                  = 25+35+45             = 105
	   - CLA = 6-(228+229+230)              = 1000-105             = 895

	   No findings: every referenced GQ code is present.
	*/
	config := getTestConfig()

	run := generate(t, config, "lbsr", GenerateRequest{
		Data:   sampleFiling(),
		Source: "integration-test",
	})

	if run.Status != "completed" {
		t.Fatalf("Expected status completed, got %s (error: %s)", run.Status, run.Error)
	}

	assertValue(t, run, "CAF", 800)
	assertValue(t, run, "CGB", 350)
	assertValue(t, run, "CAD", 105)
	assertValue(t, run, "CLA", 895)

	if len(run.Findings) > 0 {
		t.Errorf("Expected no findings for complete filing, got %v", run.Findings)
	}

	if run.Summary.RecordCount != len(run.Records) {
		t.Errorf("Summary record count %d does not match %d records",
			run.Summary.RecordCount, len(run.Records))
	}

	t.Logf("✓ LBSR report: %d records, total %.2f", len(run.Records), run.Summary.TotalValue)
}

// ============================================================================
// SCENARIO 2: Complete LBSN Conversion
// ============================================================================

func TestLBSNReport_CompleteFiling(t *testing.T) {
	/*
	   SCENARIO: The same filing converted to the nationality report.

	   EXPECTED VALUES:
	   - CAA = 6+17+(228+229+230) = 1000+50+105 = 1155
	   - CIO = 17-517             = 50-20       = 30

	   The two variants are independent rule sets over the same source data.
	*/
	config := getTestConfig()

	run := generate(t, config, "lbsn", GenerateRequest{Data: sampleFiling()})

	if run.Status != "completed" {
		t.Fatalf("Expected status completed, got %s (error: %s)", run.Status, run.Error)
	}

	assertValue(t, run, "CAA", 1155)
	assertValue(t, run, "CIO", 30)

	t.Logf("✓ LBSN report: %d records", len(run.Records))
}

// ============================================================================
// SCENARIO 3: Incomplete Filing (Missing Codes Evaluate as Zero)
// ============================================================================

func TestIncompleteFiling_MissingCodesAsZero(t *testing.T) {
	/*
	   SCENARIO: A filing missing most codes. Regulatory practice is to
	   treat unreported positions as zero rather than reject the filing,
	   but the run must carry findings naming the gaps.

	   With only {4: 100, 230: 45}:
	   - CGB = 4+376 = 100+0 = 100      (376 missing)
	   - CAF = ...+230 = 45             (everything else missing)

	   Every lbsr rule referencing an absent code produces a finding.
	*/
	config := getTestConfig()

	run := generate(t, config, "lbsr", GenerateRequest{
		Data: map[int]float64{4: 100, 230: 45},
	})

	if run.Status != "completed" {
		t.Fatalf("Expected status completed, got %s (error: %s)", run.Status, run.Error)
	}

	assertValue(t, run, "CGB", 100)
	assertValue(t, run, "CAF", 45)

	if len(run.Findings) == 0 {
		t.Error("Expected findings for missing GQ codes, got none")
	}

	t.Logf("✓ Incomplete filing converted with %d findings", len(run.Findings))
}

// ============================================================================
// SCENARIO 4: Pre-flight Validation
// ============================================================================

func TestValidateEndpoint(t *testing.T) {
	/*
	   SCENARIO: POST /validate checks rule coverage without generating a
	   report, so a submitter can fix gaps before filing.
	*/
	config := getTestConfig()

	validate := func(t *testing.T, data map[int]float64) (complete bool, messages []string) {
		t.Helper()
		body, _ := json.Marshal(map[string]any{"data": data})
		resp, err := http.Post(config.BaseURL+"/validate", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected 200, got %d", resp.StatusCode)
		}
		var result struct {
			Complete bool     `json:"complete"`
			Messages []string `json:"messages"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		return result.Complete, result.Messages
	}

	t.Run("CompleteFiling", func(t *testing.T) {
		complete, messages := validate(t, sampleFiling())
		if !complete {
			t.Errorf("Expected complete=true, got findings: %v", messages)
		}
	})

	t.Run("IncompleteFiling", func(t *testing.T) {
		complete, messages := validate(t, map[int]float64{4: 100})
		if complete {
			t.Error("Expected complete=false for a near-empty filing")
		}
		if len(messages) == 0 {
			t.Error("Expected validation messages, got none")
		}
		t.Logf("✓ Validation reported %d gaps", len(messages))
	})
}

// ============================================================================
// SCENARIO 5: Report Caching
// ============================================================================

func TestRepeatedFiling_ServedFromCache(t *testing.T) {
	/*
	   SCENARIO: Submitting an identical filing twice. The second request
	   is served from the report cache, so both responses carry the same
	   run ID. A changed value must produce a fresh run.
	*/
	config := getTestConfig()

	// Distinct dataset so earlier tests cannot have warmed this entry.
	data := sampleFiling()
	data[4] = 101.5

	first := generate(t, config, "lbsr", GenerateRequest{Data: data})
	second := generate(t, config, "lbsr", GenerateRequest{Data: data})

	if first.ID != second.ID {
		t.Errorf("Expected cached run on repeat submission: %s vs %s", first.ID, second.ID)
	}

	data[4] = 102.5
	third := generate(t, config, "lbsr", GenerateRequest{Data: data})
	if third.ID == first.ID {
		t.Error("Expected a fresh run after the filing changed")
	}

	t.Logf("✓ Cache: repeat=%v, changed=%v", first.ID == second.ID, third.ID != first.ID)
}

// ============================================================================
// SCENARIO 6: Run Persistence and Retrieval
// ============================================================================

func TestRunRetrieval(t *testing.T) {
	/*
	   SCENARIO: Every generation is persisted as an auditable run.
	   GET /runs/{id} returns it; GET /runs lists recent runs.
	*/
	config := getTestConfig()

	created := generate(t, config, "lbsr", GenerateRequest{
		Data:   sampleFiling(),
		Source: "audit-test",
	})

	resp, err := http.Get(config.BaseURL + "/runs/" + created.ID)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 for GET /runs/%s, got %d", created.ID, resp.StatusCode)
	}

	var fetched ReportRun
	if err := json.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		t.Fatalf("Failed to decode run: %v", err)
	}
	if fetched.ID != created.ID || fetched.Variant != "lbsr" {
		t.Errorf("Fetched run mismatch: id=%s variant=%s", fetched.ID, fetched.Variant)
	}
	if len(fetched.Records) != len(created.Records) {
		t.Errorf("Persisted records differ: %d vs %d", len(fetched.Records), len(created.Records))
	}

	listResp, err := http.Get(config.BaseURL + "/runs?variant=lbsr&limit=10")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer listResp.Body.Close()
	var list struct {
		Runs  []ReportRun `json:"runs"`
		Count int         `json:"count"`
	}
	if err := json.NewDecoder(listResp.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode run list: %v", err)
	}
	if list.Count == 0 {
		t.Error("Expected at least one persisted run")
	}

	t.Logf("✓ Run %s persisted and listed (%d recent runs)", created.ID[:8], list.Count)
}

// ============================================================================
// SCENARIO 7: Asynchronous Generation via the Event Bus
// ============================================================================

func TestAsyncGeneration(t *testing.T) {
	/*
	   SCENARIO: POST /reports/{variant}/async queues the filing on the
	   event bus and returns 202 immediately. The worker persists the
	   completed run, which then appears under GET /runs/{id}.

	   Requires the async worker (Pro tier or GQMAPPER_ASYNC_WORKER=true);
	   skipped if the run never materializes.
	*/
	config := getTestConfig()

	body, _ := json.Marshal(GenerateRequest{Data: sampleFiling(), Source: "async-test"})
	resp, err := http.Post(config.BaseURL+"/reports/lbsr/async", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	var accepted struct {
		RunID  string `json:"runId"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if accepted.RunID == "" || accepted.Status != "pending" {
		t.Fatalf("Unexpected accept payload: %+v", accepted)
	}

	// Poll for the worker to finish the run.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		runResp, err := http.Get(config.BaseURL + "/runs/" + accepted.RunID)
		if err == nil && runResp.StatusCode == http.StatusOK {
			var run ReportRun
			decodeErr := json.NewDecoder(runResp.Body).Decode(&run)
			runResp.Body.Close()
			if decodeErr == nil && run.Status == "completed" {
				assertValue(t, run, "CAF", 800)
				t.Logf("✓ Async run %s completed with %d records", run.ID[:8], len(run.Records))
				return
			}
		} else if runResp != nil {
			runResp.Body.Close()
		}
		time.Sleep(200 * time.Millisecond)
	}

	t.Skip("async worker not enabled on target instance")
}

// ============================================================================
// SCENARIO 8: Input Validation
// ============================================================================

func TestUnknownVariant_Error(t *testing.T) {
	/*
	   SCENARIO: Requesting a report variant outside the LBS family.

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()

	body, _ := json.Marshal(GenerateRequest{Data: sampleFiling()})
	resp, err := http.Post(config.BaseURL+"/reports/cbs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown variant, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: unknown variant → HTTP %d", resp.StatusCode)
}

func TestMissingData_Error(t *testing.T) {
	/*
	   SCENARIO: Request without the data field.

	   EXPECTED: HTTP 400 Bad Request
	*/
	config := getTestConfig()

	resp, err := http.Post(config.BaseURL+"/reports/lbsr", "application/json",
		bytes.NewReader([]byte(`{"source":"no-data"}`)))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing data, got %d", resp.StatusCode)
	}

	t.Logf("✓ Validation test passed: missing data → HTTP %d", resp.StatusCode)
}

// ============================================================================
// SCENARIO 9: Rules Introspection
// ============================================================================

func TestRulesEndpoint(t *testing.T) {
	/*
	   SCENARIO: GET /rules exposes the loaded mapping rules so operators
	   can confirm which knowledge base version the service is running.
	*/
	config := getTestConfig()

	resp, err := http.Get(config.BaseURL + "/rules")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var result struct {
		Counts map[string]int `json:"counts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	for _, variant := range []string{"lbsr", "lbsn"} {
		if result.Counts[variant] == 0 {
			t.Errorf("Expected %s rules to be loaded", variant)
		}
	}

	t.Logf("✓ Rules loaded: %v", result.Counts)
}

// ============================================================================
// SCENARIO 10: Response Metadata Verification
// ============================================================================

func TestResponseMetadata(t *testing.T) {
	/*
	   SCENARIO: Verify responses carry tracing headers and the run
	   contract is stable for clients.
	*/
	config := getTestConfig()

	body, _ := json.Marshal(GenerateRequest{Data: sampleFiling()})
	resp, err := http.Post(config.BaseURL+"/reports/lbsr", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("Missing X-Request-ID header")
	}

	var run ReportRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("Failed to decode run: %v", err)
	}

	if run.ID == "" {
		t.Error("Missing run id")
	}
	if run.Status != "completed" && run.Status != "failed" {
		t.Errorf("Invalid status: %s", run.Status)
	}
	for _, rec := range run.Records {
		if rec.Code == "" {
			t.Error("Record missing DSD code")
		}
		if rec.Formula == "" {
			t.Errorf("Record %s missing source formula", rec.Code)
		}
	}

	t.Logf("✓ Metadata complete: runId=%s, requestId=%s",
		run.ID[:8], resp.Header.Get("X-Request-ID"))
}
