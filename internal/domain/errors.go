package domain

import "errors"

// Error kinds surfaced by the mapping core. All are terminal for the
// operation that raised them and are matched with errors.Is; call sites wrap
// them with the offending rule's target code and formula text verbatim so
// failures stay auditable.
var (
	// ErrFormulaSyntax marks a formula containing disallowed characters.
	ErrFormulaSyntax = errors.New("formula syntax error")

	// ErrFormulaEvaluation marks a formula that is arithmetically malformed
	// or fails during evaluation (division by zero, unbalanced parentheses).
	ErrFormulaEvaluation = errors.New("formula evaluation error")

	// ErrMalformedRule marks a mapping rule missing a required field.
	ErrMalformedRule = errors.New("malformed mapping rule")

	// ErrInvalidVariant marks a report variant outside the known enumeration.
	ErrInvalidVariant = errors.New("invalid report variant")

	// ErrNoRulesDefined marks a known variant with zero configured rules.
	ErrNoRulesDefined = errors.New("no mapping rules defined")

	// ErrConfiguration marks a structurally unusable rule or structure source.
	ErrConfiguration = errors.New("configuration error")
)
