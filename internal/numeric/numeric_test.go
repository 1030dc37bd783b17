package numeric

import (
	"math"
	"testing"
)

func TestFinite(t *testing.T) {
	if got := Finite(1.5); got != 1.5 {
		t.Errorf("expected 1.5, got %f", got)
	}
	if got := Finite(math.NaN()); got != 0 {
		t.Errorf("expected 0 for NaN, got %f", got)
	}
	if got := Finite(math.Inf(1)); got != 0 {
		t.Errorf("expected 0 for +Inf, got %f", got)
	}
	if got := Finite(math.Inf(-1)); got != 0 {
		t.Errorf("expected 0 for -Inf, got %f", got)
	}
	if got := Finite(-2.25); got != -2.25 {
		t.Errorf("expected -2.25, got %f", got)
	}
	if got := Finite(0); got != 0 {
		t.Errorf("expected 0, got %f", got)
	}
}

func TestFiniteOr(t *testing.T) {
	if got := FiniteOr(math.NaN(), 1); got != 1 {
		t.Errorf("expected default 1 for NaN, got %f", got)
	}
	if got := FiniteOr(3, 1); got != 3 {
		t.Errorf("expected 3, got %f", got)
	}
}

func TestParseFinite(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"42.5", 42.5},
		{"  42.5 ", 42.5},
		{"-0.001", -0.001},
		{"", 0},
		{"abc", 0},
		{"NaN", 0},
		{"+Inf", 0},
		{"-Inf", 0},
		{"1e3", 1000},
	}
	for _, tc := range cases {
		if got := ParseFinite(tc.in); got != tc.want {
			t.Errorf("ParseFinite(%q) = %f, want %f", tc.in, got, tc.want)
		}
	}
}

func TestSafeDiv(t *testing.T) {
	if got := SafeDiv(10, 4); got != 2.5 {
		t.Errorf("expected 2.5, got %f", got)
	}
	if got := SafeDiv(10, 0); got != 0 {
		t.Errorf("expected 0 for zero denominator, got %f", got)
	}
	if got := SafeDiv(math.NaN(), 2); got != 0 {
		t.Errorf("expected 0 for NaN numerator, got %f", got)
	}
	if got := SafeDiv(1, math.Inf(1)); got != 0 {
		t.Errorf("expected 0 for Inf denominator, got %f", got)
	}
}
