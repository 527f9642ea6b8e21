// Package mapping implements the GQ→DSD mapping engine.
package mapping

import (
	"fmt"
	"sync"

	"github.com/botlhale/IBSDSD2CA-Mapping/internal/domain"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/formula"
)

// Engine applies a declarative rule set to source datasets. The rule set is
// immutable between reloads, so GenerateReport and ValidateRules may run
// concurrently.
type Engine struct {
	mu    sync.RWMutex
	rules domain.RuleSet
}

// New creates an engine over an already-parsed rule set.
// The rule set must be non-empty and keyed only by known report variants.
func New(rules domain.RuleSet) (*Engine, error) {
	if err := checkRuleSet(rules); err != nil {
		return nil, err
	}
	return &Engine{rules: cloneRuleSet(rules)}, nil
}

// Reload replaces the engine's rule set, enabling hot-reload from the
// repository without restarting the service.
func (e *Engine) Reload(rules domain.RuleSet) error {
	if err := checkRuleSet(rules); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = cloneRuleSet(rules)
	return nil
}

// GenerateReport evaluates every rule of the requested variant, in stored
// order, against the dataset. Generation is fail-fast: the first rule-level
// failure aborts the run with an error naming the rule's target code and
// formula and preserving the underlying cause. Missing source codes are not
// failures; they default to zero inside evaluation.
func (e *Engine) GenerateReport(dataset domain.SourceDataset, variant domain.ReportVariant) ([]domain.OutputRecord, error) {
	if !variant.Valid() {
		return nil, fmt.Errorf("%w: %q (must be one of %v)", domain.ErrInvalidVariant, variant, domain.KnownVariants())
	}

	e.mu.RLock()
	rules := e.rules[variant]
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: variant %q", domain.ErrNoRulesDefined, variant)
	}

	records := make([]domain.OutputRecord, 0, len(rules))
	for i, rule := range rules {
		if err := checkRuleFields(variant, i, rule); err != nil {
			return nil, err
		}

		value, err := formula.Evaluate(rule.Formula, dataset)
		if err != nil {
			return nil, fmt.Errorf("rule %s (%s) formula %q: %w", rule.TargetCode, variant, rule.Formula, err)
		}

		records = append(records, domain.OutputRecord{
			Code:        rule.TargetCode,
			Value:       value,
			Description: rule.Description,
			Formula:     rule.Formula,
		})
	}

	return records, nil
}

// ValidateRules checks every rule across every known variant against the set
// of available GQ codes. It reports rather than fails: the caller decides
// whether missing-code findings are warnings or hard pre-flight failures.
// Returns the empty slice when every rule's dependencies are satisfiable.
func (e *Engine) ValidateRules(availableCodes []int) []domain.ValidationFinding {
	available := make(map[int]bool, len(availableCodes))
	for _, code := range availableCodes {
		available[code] = true
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	var findings []domain.ValidationFinding
	for _, variant := range domain.KnownVariants() {
		for _, rule := range e.rules[variant] {
			var missing []int
			for _, code := range formula.ExtractCodes(rule.Formula) {
				if !available[code] {
					missing = append(missing, code)
				}
			}
			if len(missing) > 0 {
				findings = append(findings, domain.ValidationFinding{
					Variant:      variant,
					TargetCode:   rule.TargetCode,
					MissingCodes: missing,
					Formula:      rule.Formula,
				})
			}
		}
	}
	return findings
}

// Rules returns a copy of the engine's current rule set.
func (e *Engine) Rules() domain.RuleSet {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneRuleSet(e.rules)
}

// RuleCount returns the total number of loaded rules across all variants.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := 0
	for _, rules := range e.rules {
		n += len(rules)
	}
	return n
}

func checkRuleSet(rules domain.RuleSet) error {
	if len(rules) == 0 {
		return fmt.Errorf("%w: rule set is empty", domain.ErrConfiguration)
	}
	for variant := range rules {
		if !variant.Valid() {
			return fmt.Errorf("%w: unknown report variant %q in rule set", domain.ErrConfiguration, variant)
		}
	}
	return nil
}

func checkRuleFields(variant domain.ReportVariant, index int, rule domain.MappingRule) error {
	switch {
	case rule.TargetCode == "":
		return fmt.Errorf("%w: rule %d (%s) is missing dsd_code", domain.ErrMalformedRule, index, variant)
	case rule.Formula == "":
		return fmt.Errorf("%w: rule %s (%s) is missing formula", domain.ErrMalformedRule, rule.TargetCode, variant)
	case rule.Description == "":
		return fmt.Errorf("%w: rule %s (%s) is missing description", domain.ErrMalformedRule, rule.TargetCode, variant)
	}
	return nil
}

func cloneRuleSet(rules domain.RuleSet) domain.RuleSet {
	clone := make(domain.RuleSet, len(rules))
	for variant, list := range rules {
		clone[variant] = append([]domain.MappingRule(nil), list...)
	}
	return clone
}
