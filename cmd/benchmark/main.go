// Benchmark tool for load-testing gqmapperd with GM_GQ return data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/gq_data.csv -url http://localhost:8080
//
// This tool:
//   1. Reads a GM_GQ return file (code,value rows)
//   2. Sends repeated report requests to gqmapperd
//   3. Optionally verifies returned DSD values against an expected output CSV
//   4. Reports throughput, latency, and value-match statistics
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// GenerateRequest is the gqmapperd API request format
type GenerateRequest struct {
	Data   map[int]float64 `json:"data"`
	Source string          `json:"source,omitempty"`
}

// ReportResponse is the subset of the run payload the benchmark inspects
type ReportResponse struct {
	ID      string `json:"id"`
	Variant string `json:"variant"`
	Status  string `json:"status"`
	Records []struct {
		Code  string  `json:"code"`
		Value float64 `json:"value"`
	} `json:"records"`
	Findings []string `json:"findings"`
}

// Metrics tracks benchmark results
type Metrics struct {
	ValueMatches    int64 // DSD values equal to the expected output
	ValueMismatches int64 // DSD values that differ from the expected output
	MissingCodes    int64 // expected DSD codes absent from the response

	TotalRequests int64
	TotalFindings int64
	TotalErrors   int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to GM_GQ return CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "gqmapperd base URL")
	variant := flag.String("variant", "lbsr", "Report variant (lbsr or lbsn)")
	expectedPath := flag.String("expected", "", "Optional expected DSD output CSV to verify against")
	iterations := flag.Int("iterations", 1000, "Number of report requests to send")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each request result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/gq_data.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         GQMAPPER BENCHMARK - LBS Report Generation            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Service URL: %s\n", *baseURL)
	fmt.Printf("Variant:     %s\n", *variant)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Iterations:  %d\n", *iterations)
	if *expectedPath != "" {
		fmt.Printf("Expected:    %s\n", *expectedPath)
	}
	fmt.Println()

	// Check gqmapperd is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: gqmapperd not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure gqmapperd is running:")
		fmt.Println("  go run cmd/gqmapperd/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ gqmapperd is healthy")

	// Read GQ return data
	fmt.Printf("\nReading GM_GQ data from %s...\n", *csvPath)
	dataset, err := readReturnCSV(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d GQ codes\n", len(dataset))

	// Read expected output, if any
	var expected map[string]float64
	if *expectedPath != "" {
		expected, err = readExpectedCSV(*expectedPath)
		if err != nil {
			fmt.Printf("ERROR: Failed to read expected output: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Loaded %d expected DSD values\n", len(expected))
	}

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(dataset, expected, *baseURL, *variant, *iterations, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, expected != nil, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readReturnCSV(path string) (map[int]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	dataset := make(map[int]float64)
	first := true

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}
		if len(record) < 2 {
			continue
		}

		code, codeErr := strconv.Atoi(strings.TrimSpace(record[0]))
		if codeErr != nil {
			if first {
				first = false
				continue // Header row
			}
			continue
		}
		first = false

		value, valErr := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if valErr != nil {
			continue
		}
		dataset[code] = value
	}

	return dataset, nil
}

// readExpectedCSV reads a dsd_code,value file such as the one WriteCSVFile
// produces, so a benchmark run can double as a regression check.
func readExpectedCSV(path string) (map[string]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	expected := make(map[string]float64)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(record) < 2 {
			continue
		}

		value, valErr := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if valErr != nil {
			continue // Header row
		}
		expected[strings.TrimSpace(record[0])] = value
	}

	return expected, nil
}

func runBenchmark(dataset map[int]float64, expected map[string]float64, baseURL, variant string, iterations, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan int, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for seq := range work {
				start := time.Now()
				result, err := generateReport(client, baseURL, variant, dataset)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalRequests, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: request %d -> %v\n", seq, err)
					}
					continue
				}

				atomic.AddInt64(&metrics.TotalFindings, int64(len(result.Findings)))

				if expected != nil {
					checkValues(metrics, expected, result, verbose)
				}

				if verbose {
					fmt.Printf("✓ run %-36s | Records: %3d | Findings: %2d | %4d ms\n",
						result.ID, len(result.Records), len(result.Findings), elapsed)
				}
			}
		}()
	}

	// Send work
	for i := 0; i < iterations; i++ {
		work <- i
	}
	close(work)

	wg.Wait()

	return metrics
}

func checkValues(metrics *Metrics, expected map[string]float64, result *ReportResponse, verbose bool) {
	got := make(map[string]float64, len(result.Records))
	for _, rec := range result.Records {
		got[rec.Code] = rec.Value
	}

	for code, want := range expected {
		have, ok := got[code]
		if !ok {
			atomic.AddInt64(&metrics.MissingCodes, 1)
			continue
		}
		if math.Abs(have-want) < 1e-9 {
			atomic.AddInt64(&metrics.ValueMatches, 1)
		} else {
			atomic.AddInt64(&metrics.ValueMismatches, 1)
			if verbose {
				fmt.Printf("✗ %-12s | expected %.2f, got %.2f\n", code, want, have)
			}
		}
	}
}

func generateReport(client *http.Client, baseURL, variant string, dataset map[int]float64) (*ReportResponse, error) {
	req := GenerateRequest{
		Data:   dataset,
		Source: "benchmark",
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/reports/"+variant, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ReportResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, verified bool, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 REQUEST STATISTICS\n")
	fmt.Printf("   Total Requests:   %d\n", m.TotalRequests)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)
	fmt.Printf("   Findings Seen:    %d\n", m.TotalFindings)

	if verified {
		fmt.Printf("\n🎯 VALUE VERIFICATION\n")
		fmt.Printf("   Matches:          %d\n", m.ValueMatches)
		fmt.Printf("   Mismatches:       %d\n", m.ValueMismatches)
		fmt.Printf("   Missing Codes:    %d\n", m.MissingCodes)

		total := m.ValueMatches + m.ValueMismatches + m.MissingCodes
		if total > 0 {
			matchRate := float64(m.ValueMatches) / float64(total) * 100
			fmt.Printf("   Match Rate:       %.2f%%\n", matchRate)
			if m.ValueMismatches == 0 && m.MissingCodes == 0 {
				fmt.Println("   ✅ All DSD values match the expected output")
			} else {
				fmt.Println("   ❌ DSD values diverge from the expected output")
			}
		}
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalRequests > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalRequests)
		rps := float64(m.TotalRequests) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", rps)
	}

	fmt.Println()
}
