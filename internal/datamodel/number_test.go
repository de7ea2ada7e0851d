package datamodel

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"123", "123"},
		{"-1.25", "-1.25"},
		{"1e3", "1000"},
		{"1e64", "1" + strings.Repeat("0", 64)},
		{"1e65", "1E+65"},
		{"1e30000000", "1E+30000000"},
		{"10e100", "1.0E+101"},
		{"-123e-99", "-1.23E-97"},
		{"0e30000000", "0E+30000000"},
	}
	for _, tt := range tests {
		if got := FormatNumber(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("FormatNumber(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFloat64(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"1.5", 1.5},
		{"2e300", 2e300},
		{"1e30000000", math.Inf(1)},
		{"-1e30000000", math.Inf(-1)},
		{"1e-30000000", 0},
	}
	for _, tt := range tests {
		if got := Float64(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("Float64(%s) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestHugeExponentsStayCheap(t *testing.T) {
	m, err := Parse("a=1e30000000\nb=[1e-30000000]", time.UTC)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	done := make(chan map[string]any, 1)
	go func() {
		native, err := m.Native()
		if err != nil {
			t.Errorf("Native error: %v", err)
		}
		done <- native
	}()

	select {
	case native := <-done:
		d, ok := native["a"].(decimal.Decimal)
		if !ok {
			t.Fatalf("a = %T, want decimal.Decimal", native["a"])
		}
		if got := FormatNumber(d); got != "1E+30000000" {
			t.Errorf("a = %s, want 1E+30000000", got)
		}
	case <-time.After(time.Second):
		t.Fatal("converting a number with a huge exponent did not finish within a second")
	}
}
