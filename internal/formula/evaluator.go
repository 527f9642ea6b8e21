// Package formula provides safe evaluation of mapping-rule arithmetic.
//
// A formula such as "201+208+(17-517)" looks like ordinary arithmetic, but
// its integer tokens are GQ code references, not constants: each one is
// resolved against the source dataset before any arithmetic happens. Codes
// absent from the dataset resolve to zero. The accepted grammar is an
// explicit restricted interpreter over + - * / ( ) and numeric tokens; no
// general-purpose expression engine is involved.
package formula

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/botlhale/IBSDSD2CA-Mapping/internal/domain"
)

// allowedChars is the full character set a formula may contain after
// whitespace removal. Anything else is rejected before parsing.
const allowedChars = "0123456789+-*/()."

type tokenKind int

const (
	tokenCode    tokenKind = iota // integer digit run: a GQ code reference
	tokenLiteral                  // decimal literal constant, e.g. 1.5 or .5
	tokenOp                       // one of + - * /
	tokenLParen
	tokenRParen
)

type token struct {
	kind    tokenKind
	code    int     // tokenCode
	literal float64 // tokenLiteral
	op      byte    // tokenOp
}

// Evaluate computes the value of formula against the given code→value
// mapping. Missing codes default to 0.0 and never fail. Disallowed
// characters yield domain.ErrFormulaSyntax; malformed expressions and
// division by zero yield domain.ErrFormulaEvaluation. Error messages carry
// the original formula text verbatim.
func Evaluate(formula string, values map[int]float64) (float64, error) {
	stripped, err := checkCharset(formula)
	if err != nil {
		return 0, err
	}

	tokens, err := tokenize(stripped, formula)
	if err != nil {
		return 0, err
	}

	p := &parser{tokens: tokens, values: values, formula: formula}
	result, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	if p.pos != len(p.tokens) {
		return 0, fmt.Errorf("%w: unexpected trailing input in formula %q", domain.ErrFormulaEvaluation, formula)
	}
	return result, nil
}

// Check verifies that formula conforms to the restricted grammar without
// evaluating it. Division by zero is a runtime concern and is not flagged
// here; everything else that Evaluate would reject, Check rejects too.
func Check(f string) error {
	stripped, err := checkCharset(f)
	if err != nil {
		return err
	}

	tokens, err := tokenize(stripped, f)
	if err != nil {
		return err
	}

	p := &parser{tokens: tokens, formula: f, checkOnly: true}
	if _, err := p.parseExpr(); err != nil {
		return err
	}
	if p.pos != len(p.tokens) {
		return fmt.Errorf("%w: unexpected trailing input in formula %q", domain.ErrFormulaEvaluation, f)
	}
	return nil
}

// ExtractCodes returns every GQ code referenced by formula, in first
// appearance order, deduplicated. Digit runs that form part of a decimal
// literal are not code references. Formulas that fail the charset check
// yield no codes.
func ExtractCodes(formula string) []int {
	stripped, err := checkCharset(formula)
	if err != nil {
		return nil
	}

	tokens, err := tokenize(stripped, formula)
	if err != nil {
		return nil
	}

	seen := make(map[int]bool)
	var codes []int
	for _, tok := range tokens {
		if tok.kind == tokenCode && !seen[tok.code] {
			seen[tok.code] = true
			codes = append(codes, tok.code)
		}
	}
	return codes
}

// checkCharset strips whitespace and verifies the remainder only contains
// the allowed arithmetic character set.
func checkCharset(formula string) (string, error) {
	stripped := strings.Map(func(r rune) rune {
		if r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, formula)

	if stripped == "" {
		return "", fmt.Errorf("%w: empty formula", domain.ErrFormulaSyntax)
	}
	for _, r := range stripped {
		if !strings.ContainsRune(allowedChars, r) {
			return "", fmt.Errorf("%w: invalid character %q in formula %q", domain.ErrFormulaSyntax, r, formula)
		}
	}
	return stripped, nil
}

// tokenize splits the whitespace-free formula into tokens. A maximal digit
// run with no adjacent decimal point is a code reference; a number token
// containing a decimal point is a literal constant. This is the word-boundary
// discipline of the rule language: overlapping numeric substrings can never
// be conflated because each digit run is consumed exactly once.
func tokenize(stripped, original string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(stripped); {
		c := stripped[i]
		switch {
		case c >= '0' && c <= '9' || c == '.':
			start := i
			sawDot := false
			for i < len(stripped) && (stripped[i] >= '0' && stripped[i] <= '9' || stripped[i] == '.') {
				if stripped[i] == '.' {
					if sawDot {
						return nil, fmt.Errorf("%w: malformed number in formula %q", domain.ErrFormulaEvaluation, original)
					}
					sawDot = true
				}
				i++
			}
			text := stripped[start:i]
			if sawDot {
				lit, err := strconv.ParseFloat(text, 64)
				if err != nil {
					return nil, fmt.Errorf("%w: malformed number %q in formula %q", domain.ErrFormulaEvaluation, text, original)
				}
				tokens = append(tokens, token{kind: tokenLiteral, literal: lit})
			} else {
				code, err := strconv.Atoi(text)
				if err != nil {
					return nil, fmt.Errorf("%w: malformed code %q in formula %q", domain.ErrFormulaEvaluation, text, original)
				}
				tokens = append(tokens, token{kind: tokenCode, code: code})
			}
		case c == '+' || c == '-' || c == '*' || c == '/':
			tokens = append(tokens, token{kind: tokenOp, op: c})
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokenLParen})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokenRParen})
			i++
		default:
			// Unreachable after the charset check.
			return nil, fmt.Errorf("%w: invalid character %q in formula %q", domain.ErrFormulaSyntax, c, original)
		}
	}
	return tokens, nil
}

// parser is a recursive-descent parser over the restricted grammar:
//
//	expr   = term   { ("+" | "-") term }
//	term   = factor { ("*" | "/") factor }
//	factor = ["+" | "-"] ( code | literal | "(" expr ")" )
type parser struct {
	tokens    []token
	pos       int
	values    map[int]float64
	formula   string
	checkOnly bool // structural check: skip the division-by-zero guard
}

func (p *parser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for p.pos < len(p.tokens) && p.tokens[p.pos].kind == tokenOp {
		op := p.tokens[p.pos].op
		if op != '+' && op != '-' {
			break
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
	return left, nil
}

func (p *parser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for p.pos < len(p.tokens) && p.tokens[p.pos].kind == tokenOp {
		op := p.tokens[p.pos].op
		if op != '*' && op != '/' {
			break
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			left *= right
		} else {
			if right == 0 {
				if !p.checkOnly {
					return 0, fmt.Errorf("%w: division by zero in formula %q", domain.ErrFormulaEvaluation, p.formula)
				}
				right = 1
			}
			left /= right
		}
	}
	return left, nil
}

func (p *parser) parseFactor() (float64, error) {
	if p.pos >= len(p.tokens) {
		return 0, fmt.Errorf("%w: unexpected end of formula %q", domain.ErrFormulaEvaluation, p.formula)
	}

	tok := p.tokens[p.pos]

	// Unary sign
	if tok.kind == tokenOp && (tok.op == '+' || tok.op == '-') {
		p.pos++
		val, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if tok.op == '-' {
			return -val, nil
		}
		return val, nil
	}

	switch tok.kind {
	case tokenCode:
		p.pos++
		// Missing codes default to zero: incomplete source data degrades
		// gracefully instead of blocking report generation.
		return p.values[tok.code], nil
	case tokenLiteral:
		p.pos++
		return tok.literal, nil
	case tokenLParen:
		p.pos++
		val, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tokenRParen {
			return 0, fmt.Errorf("%w: unbalanced parentheses in formula %q", domain.ErrFormulaEvaluation, p.formula)
		}
		p.pos++
		return val, nil
	default:
		return 0, fmt.Errorf("%w: unexpected token in formula %q", domain.ErrFormulaEvaluation, p.formula)
	}
}
