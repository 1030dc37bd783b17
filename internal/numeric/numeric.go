// Package numeric guards every calculation in the core against NaN and
// Infinity artifacts. Upstream trade records arrive from manual entry and
// CSV import and routinely carry blank or junk numeric fields; the domain
// treats those as zero ("no data yet"), never as a fault.
package numeric

import (
	"math"
	"strconv"
	"strings"
)

// Finite returns v when it is a finite real number, otherwise 0.
func Finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// FiniteOr returns v when finite, otherwise def.
func FiniteOr(v, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return v
}

// ParseFinite interprets s as a finite number, returning 0 for empty,
// non-numeric, NaN, or infinite input. Leading/trailing whitespace is
// tolerated because exchange REST payloads quote numbers as strings.
func ParseFinite(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return Finite(v)
}

// SafeDiv divides num by den, returning 0 when the denominator is zero or
// either operand is non-finite.
func SafeDiv(num, den float64) float64 {
	num = Finite(num)
	den = Finite(den)
	if den == 0 {
		return 0
	}
	return Finite(num / den)
}
