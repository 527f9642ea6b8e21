// Package config loads and validates the human-editable knowledge base:
// the LBS mapping rules and the GQ structure definition.
package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/botlhale/IBSDSD2CA-Mapping/internal/domain"
	"github.com/botlhale/IBSDSD2CA-Mapping/internal/formula"
)

// rawRulesDocument mirrors the on-disk rules file layout:
//
//	lbsr_mappings:
//	  - dsd_code: CGB
//	    formula: "4+376"
//	    description: Claims, Loans & Deposits, Banks (Total)
//	lbsn_mappings:
//	  - ...
type rawRulesDocument struct {
	LBSRMappings []rawRule `yaml:"lbsr_mappings"`
	LBSNMappings []rawRule `yaml:"lbsn_mappings"`
}

type rawRule struct {
	DSDCode     string `yaml:"dsd_code"`
	Formula     string `yaml:"formula"`
	Description string `yaml:"description"`
}

// LoadRules reads and validates a mapping rules YAML file. The schema is
// enforced here, at the boundary, so the engine can assume well-formed input
// beyond its own per-field checks: unknown document keys are rejected, every
// rule needs dsd_code, formula and description, and every formula must pass
// the evaluator's character-set check.
func LoadRules(path string) (domain.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read rules file %s: %v", domain.ErrConfiguration, path, err)
	}
	return ParseRules(data, path)
}

// ParseRules validates an in-memory rules document. source is used in error
// messages only.
func ParseRules(data []byte, source string) (domain.RuleSet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc rawRulesDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: parse rules file %s: %v", domain.ErrConfiguration, source, err)
	}

	ruleSet := domain.RuleSet{}
	for variant, raw := range map[domain.ReportVariant][]rawRule{
		domain.VariantLBSR: doc.LBSRMappings,
		domain.VariantLBSN: doc.LBSNMappings,
	} {
		if len(raw) == 0 {
			continue
		}
		rules, err := convertRules(variant, raw, source)
		if err != nil {
			return nil, err
		}
		ruleSet[variant] = rules
	}

	if len(ruleSet) == 0 {
		return nil, fmt.Errorf("%w: rules file %s defines no mappings", domain.ErrConfiguration, source)
	}
	return ruleSet, nil
}

func convertRules(variant domain.ReportVariant, raw []rawRule, source string) ([]domain.MappingRule, error) {
	rules := make([]domain.MappingRule, 0, len(raw))
	seen := make(map[string]bool, len(raw))

	for i, r := range raw {
		switch {
		case r.DSDCode == "":
			return nil, fmt.Errorf("%w: %s: %s_mappings[%d] is missing dsd_code", domain.ErrConfiguration, source, variant, i)
		case r.Formula == "":
			return nil, fmt.Errorf("%w: %s: rule %s (%s) is missing formula", domain.ErrConfiguration, source, r.DSDCode, variant)
		case r.Description == "":
			return nil, fmt.Errorf("%w: %s: rule %s (%s) is missing description", domain.ErrConfiguration, source, r.DSDCode, variant)
		}

		if seen[r.DSDCode] {
			return nil, fmt.Errorf("%w: %s: duplicate dsd_code %s in %s_mappings", domain.ErrConfiguration, source, r.DSDCode, variant)
		}
		seen[r.DSDCode] = true

		// Reject malformed formulas before they ever reach the evaluator.
		if err := formula.Check(r.Formula); err != nil {
			return nil, fmt.Errorf("%w: %s: rule %s (%s): %v", domain.ErrConfiguration, source, r.DSDCode, variant, err)
		}

		rules = append(rules, domain.MappingRule{
			TargetCode:  r.DSDCode,
			Formula:     r.Formula,
			Description: r.Description,
		})
	}
	return rules, nil
}
