// Package domain defines the core types and interfaces for gqmapper.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// ReportVariant identifies one of the BIS LBS target report formats.
type ReportVariant string

const (
	// VariantLBSR is the residency-based locational banking statistics report.
	VariantLBSR ReportVariant = "lbsr"

	// VariantLBSN is the nationality-based locational banking statistics report.
	VariantLBSN ReportVariant = "lbsn"
)

// KnownVariants returns the closed set of report variants, in stable order.
func KnownVariants() []ReportVariant {
	return []ReportVariant{VariantLBSR, VariantLBSN}
}

// Valid reports whether v is one of the known report variants.
func (v ReportVariant) Valid() bool {
	for _, known := range KnownVariants() {
		if v == known {
			return true
		}
	}
	return false
}

// MappingRule maps one DSD target line to an arithmetic formula over GQ codes.
// The formula's integer tokens are code references resolved against a source
// dataset, not numeric constants.
type MappingRule struct {
	TargetCode  string `json:"dsdCode" yaml:"dsd_code"`
	Formula     string `json:"formula" yaml:"formula"`
	Description string `json:"description" yaml:"description"`
}

// RuleSet holds the ordered mapping rules for each report variant.
// It is loaded once by the configuration collaborator and never mutated.
type RuleSet map[ReportVariant][]MappingRule

// SourceDataset maps GQ codes to their reported values for one filing.
type SourceDataset map[int]float64

// Codes returns the dataset's codes in ascending order.
func (d SourceDataset) Codes() []int {
	codes := make([]int, 0, len(d))
	for code := range d {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// OutputRecord is one resolved DSD target line. The originating formula is
// retained for audit traceability.
type OutputRecord struct {
	Code        string  `json:"code"`
	Value       float64 `json:"value"`
	Description string  `json:"description"`
	Formula     string  `json:"formula"`
}

// CodeInfo is the descriptive metadata for a GQ code from the structure
// definition. It is not used by the mapping computation itself.
type CodeInfo struct {
	Code         int    `json:"code" yaml:"code"`
	Description  string `json:"description" yaml:"description"`
	Part         string `json:"part,omitempty" yaml:"part"`
	Category     string `json:"category,omitempty" yaml:"category"`
	Counterparty string `json:"counterparty,omitempty" yaml:"counterparty"`
}

// SourceItem is a single GQ data item enriched with structure metadata.
type SourceItem struct {
	Code         int     `json:"code"`
	Value        float64 `json:"value"`
	Description  string  `json:"description"`
	Part         string  `json:"part,omitempty"`
	Category     string  `json:"category,omitempty"`
	Counterparty string  `json:"counterparty,omitempty"`
}

// ValidationFinding reports a rule whose formula references codes that are
// missing from the available dataset. Findings are advisory: report
// generation proceeds with missing codes defaulted to zero.
type ValidationFinding struct {
	Variant      ReportVariant `json:"variant"`
	TargetCode   string        `json:"targetCode"`
	MissingCodes []int         `json:"missingCodes"`
	Formula      string        `json:"formula"`
}

// Message renders the finding as an operator-facing message.
func (f ValidationFinding) Message() string {
	parts := make([]string, len(f.MissingCodes))
	for i, code := range f.MissingCodes {
		parts[i] = fmt.Sprintf("%d", code)
	}
	return fmt.Sprintf("rule %s (%s): missing GQ codes [%s] in formula %q",
		f.TargetCode, f.Variant, strings.Join(parts, " "), f.Formula)
}

// Fingerprint derives a stable cache key for a (variant, dataset) pair.
// Equal datasets produce equal fingerprints regardless of map iteration order.
func Fingerprint(v ReportVariant, dataset SourceDataset) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n", v)
	for _, code := range dataset.Codes() {
		fmt.Fprintf(h, "%d:%g\n", code, dataset[code])
	}
	return hex.EncodeToString(h.Sum(nil))
}
