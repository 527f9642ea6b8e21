// gqmapper - one-shot GM_GQ to BIS LBS conversion.
//
// Reads a GM_GQ return file, applies the mapping rules for the requested
// report variant, and writes the DSD output CSV. The same engine backs the
// gqmapperd service; this binary is for batch and pipeline use.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/botlhale/IBSDSD2CA-Mapping/internal/config"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/domain"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/export"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/ingest"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/mapping"
)

func main() {
	gqFile := flag.String("gq-file", "", "Path to the GM_GQ return CSV (required)")
	reportType := flag.String("report-type", "lbsr", "Report variant: lbsr or lbsn")
	output := flag.String("output", "", "Output CSV path (default <variant>_report.csv)")
	rulesPath := flag.String("mapping-rules", "knowledge_base/lbs_mapping_rules.yaml", "Mapping rules YAML")
	structurePath := flag.String("gq-structure", "knowledge_base/gq_structure.yaml", "GQ structure YAML")
	validateOnly := flag.Bool("validate-only", false, "Validate rule coverage against the input and exit")
	verbose := flag.Bool("verbose", false, "Enable debug logging and print a run summary")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if *gqFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: gqmapper -gq-file /path/to/gq_data.csv [-report-type lbsr]")
		fmt.Fprintln(os.Stderr, "\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	variant := domain.ReportVariant(*reportType)
	if !variant.Valid() {
		slog.Error("unknown report variant", "variant", *reportType, "known", domain.KnownVariants())
		os.Exit(1)
	}

	if err := run(variant, *gqFile, *output, *rulesPath, *structurePath, *validateOnly, *verbose); err != nil {
		slog.Error("conversion failed", "error", err)
		os.Exit(1)
	}
}

func run(variant domain.ReportVariant, gqFile, output, rulesPath, structurePath string, validateOnly, verbose bool) error {
	ruleSet, err := config.LoadRules(rulesPath)
	if err != nil {
		return fmt.Errorf("load mapping rules: %w", err)
	}

	structure, err := config.LoadStructure(structurePath)
	if err != nil {
		return fmt.Errorf("load GQ structure: %w", err)
	}
	slog.Debug("knowledge base loaded",
		"rules", rulesPath,
		"structure_codes", len(structure),
	)

	engine, err := mapping.New(ruleSet)
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	dataset, err := ingest.NewParser(structure).ParseFile(gqFile)
	if err != nil {
		return fmt.Errorf("parse GQ file: %w", err)
	}
	slog.Info("GQ return parsed", "file", gqFile, "codes", len(dataset))

	// Coverage check first: missing source codes evaluate as zero during
	// generation, so surface them before the numbers go out the door.
	findings := filterFindings(engine.ValidateRules(dataset.Codes()), variant)
	for _, f := range findings {
		slog.Warn("incomplete source data for rule",
			"dsd_code", f.TargetCode,
			"missing_codes", f.MissingCodes,
			"formula", f.Formula,
		)
	}

	if validateOnly {
		if len(findings) > 0 {
			return fmt.Errorf("%d of %d %s rules reference codes absent from the input",
				len(findings), len(ruleSet[variant]), variant)
		}
		fmt.Printf("OK: all %d %s rules have complete source data\n", len(ruleSet[variant]), variant)
		return nil
	}

	records, err := engine.GenerateReport(dataset, variant)
	if err != nil {
		return fmt.Errorf("generate %s report: %w", variant, err)
	}

	if output == "" {
		output = fmt.Sprintf("%s_report.csv", variant)
	}
	if err := export.WriteCSVFile(output, records); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	slog.Info("report written",
		"variant", variant,
		"records", len(records),
		"output", output,
	)

	if verbose {
		printSummary(variant, records)
	}
	return nil
}

func filterFindings(findings []domain.ValidationFinding, variant domain.ReportVariant) []domain.ValidationFinding {
	out := findings[:0]
	for _, f := range findings {
		if f.Variant == variant {
			out = append(out, f)
		}
	}
	return out
}

func printSummary(variant domain.ReportVariant, records []domain.OutputRecord) {
	summary := mapping.Summarize(records, 5)
	fmt.Printf("\n%s report: %d records, total value %.2f\n", variant, summary.RecordCount, summary.TotalValue)
	if len(summary.Top) > 0 {
		fmt.Println("Largest positions:")
		for _, rec := range summary.Top {
			fmt.Printf("  %-12s %14.2f  %s\n", rec.Code, rec.Value, rec.Description)
		}
	}
	fmt.Println()
}
