package formula

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/botlhale/IBSDSD2CA-Mapping/internal/domain"
)

// sampleData mirrors a small GM_GQ filing.
var sampleData = map[int]float64{
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

func TestEvaluateSimple(t *testing.T) {
	tests := []struct {
		formula string
		want    float64
	}{
		{"4+376", 350.0},
		{"17-517", 30.0},
		{"201+208+215+221+(17-517)+230", 800.0},
		{"6+17+(228+229+230)", 1155.0},
	}

	for _, tt := range tests {
		t.Run(tt.formula, func(t *testing.T) {
			got, err := Evaluate(tt.formula, sampleData)
			if err != nil {
				t.Fatalf("Evaluate(%q) failed: %v", tt.formula, err)
			}
			if got != tt.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tt.formula, got, tt.want)
			}
		})
	}
}

func TestEvaluateMissingCodesDefaultToZero(t *testing.T) {
	got, err := Evaluate("999+888+4", map[int]float64{4: 100.0})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got != 100.0 {
		t.Errorf("expected missing codes to default to 0, got %v", got)
	}

	// A formula referencing only absent codes evaluates to 0.0, never errors.
	got, err = Evaluate("999", map[int]float64{})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got != 0.0 {
		t.Errorf("expected 0.0, got %v", got)
	}
}

func TestEvaluateNoSubstringCollision(t *testing.T) {
	// 17 is a substring of 517; each must resolve independently.
	got, err := Evaluate("17-517", sampleData)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if want := sampleData[17] - sampleData[517]; got != want {
		t.Errorf("Evaluate(\"17-517\") = %v, want %v", got, want)
	}
}

func TestEvaluateWhitespaceInvariance(t *testing.T) {
	data := map[int]float64{1: 10.0, 2: 20.0}
	formulas := []string{"1+2", "1 + 2", " 1  +  2 ", "1+  2"}

	for _, f := range formulas {
		got, err := Evaluate(f, data)
		if err != nil {
			t.Fatalf("Evaluate(%q) failed: %v", f, err)
		}
		if got != 30.0 {
			t.Errorf("Evaluate(%q) = %v, want 30.0", f, got)
		}
	}
}

func TestEvaluateRejectsUnsafeInput(t *testing.T) {
	unsafe := []string{
		"4+376; import os",
		"4+os.system",
		"__4__",
		"4|376",
		"",
		"   ",
	}

	for _, f := range unsafe {
		_, err := Evaluate(f, sampleData)
		if !errors.Is(err, domain.ErrFormulaSyntax) {
			t.Errorf("Evaluate(%q): expected ErrFormulaSyntax, got %v", f, err)
		}
	}
}

func TestEvaluateMalformedExpressions(t *testing.T) {
	malformed := []string{
		"4+",
		"+",
		"(4+376",
		"4+376)",
		"()",
		"4**376",
		"1..5",
		".",
	}

	for _, f := range malformed {
		_, err := Evaluate(f, sampleData)
		if !errors.Is(err, domain.ErrFormulaEvaluation) {
			t.Errorf("Evaluate(%q): expected ErrFormulaEvaluation, got %v", f, err)
		}
	}
}

func TestEvaluateErrorNamesOriginalFormula(t *testing.T) {
	formula := " 4 + "
	_, err := Evaluate(formula, sampleData)
	if err == nil {
		t.Fatal("expected error")
	}
	if want := `" 4 + "`; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not quote the original formula %s", err.Error(), want)
	}
}

func TestEvaluateMultiplicationAndDivision(t *testing.T) {
	data := map[int]float64{10: 100.0, 5: 20.0, 2: 2.0}

	tests := []struct {
		formula string
		want    float64
	}{
		{"10/5", 5.0},
		{"5*2", 40.0},
		{"(10+5)*2", 240.0},
		{"10-5*2", 60.0}, // precedence: 100 - (20*2)
	}

	for _, tt := range tests {
		got, err := Evaluate(tt.formula, data)
		if err != nil {
			t.Fatalf("Evaluate(%q) failed: %v", tt.formula, err)
		}
		if got != tt.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.formula, got, tt.want)
		}
	}
}

func TestEvaluateDivisionByZero(t *testing.T) {
	_, err := Evaluate("4/999", map[int]float64{4: 100.0})
	if !errors.Is(err, domain.ErrFormulaEvaluation) {
		t.Errorf("expected ErrFormulaEvaluation for division by zero, got %v", err)
	}
}

func TestEvaluateUnaryMinus(t *testing.T) {
	data := map[int]float64{4: 100.0}

	got, err := Evaluate("-4", data)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got != -100.0 {
		t.Errorf("Evaluate(\"-4\") = %v, want -100.0", got)
	}

	got, err = Evaluate("4*(-4)", data)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got != -10000.0 {
		t.Errorf("Evaluate(\"4*(-4)\") = %v, want -10000.0", got)
	}
}

// Digit runs adjacent to a decimal point are literal constants, not code
// references. This pins down the ambiguity between decimal literals and code
// references that the original rule files never exercised.
func TestEvaluateDecimalLiterals(t *testing.T) {
	data := map[int]float64{1: 10.0, 2: 20.0, 5: 99.0}

	tests := []struct {
		formula string
		want    float64
	}{
		{"1.5", 1.5},        // not codes 1 and 5
		{"2*1.5", 30.0},     // code 2 times literal 1.5
		{"1+2", 30.0},       // bare integers stay code references
		{".5*2", 10.0},      // leading-dot literal
		{"2/0.5", 40.0},      // literal divisor
		{"1-1000.0", -990.0}, // literal constant offset
	}

	for _, tt := range tests {
		got, err := Evaluate(tt.formula, data)
		if err != nil {
			t.Fatalf("Evaluate(%q) failed: %v", tt.formula, err)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.formula, got, tt.want)
		}
	}
}

func TestExtractCodes(t *testing.T) {
	tests := []struct {
		formula string
		want    []int
	}{
		{"4+376", []int{4, 376}},
		{"201+208+215+221+(17-517)+230", []int{201, 208, 215, 221, 17, 517, 230}},
		{"4+4+4", []int{4}},              // deduplicated
		{"2*1.5", []int{2}},              // decimal literal is not a code
		{"4+376; import os", nil},        // invalid formulas yield no codes
		{"", nil},
	}

	for _, tt := range tests {
		got := ExtractCodes(tt.formula)
		if len(got) != len(tt.want) {
			t.Errorf("ExtractCodes(%q) = %v, want %v", tt.formula, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ExtractCodes(%q) = %v, want %v", tt.formula, got, tt.want)
				break
			}
		}
	}
}

func BenchmarkEvaluate(b *testing.B) {
	for i := 0; i < b.N; i++ {
		if _, err := Evaluate("201+208+215+221+(17-517)+230", sampleData); err != nil {
			b.Fatal(err)
		}
	}
}
