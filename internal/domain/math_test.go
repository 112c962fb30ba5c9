package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseDecimalRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "  ", "1,000", "ten"} {
		if _, err := ParseDecimal(in); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ParseDecimal(%q) error = %v, want ErrInvalidAmount", in, err)
		}
	}
}

func TestWithinPrecision(t *testing.T) {
	tests := []struct {
		value  string
		places int32
		want   bool
	}{
		{"10", 4, true},
		{"10.1234", 4, true},
		{"10.12345", 4, false},
		{"-0.0001", 4, true},
		{"0.00001", 4, false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := WithinPrecision(decimal.RequireFromString(tt.value), tt.places); got != tt.want {
				t.Errorf("WithinPrecision(%s, %d) = %v, want %v", tt.value, tt.places, got, tt.want)
			}
		})
	}
}

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	got := DateOf(time.Date(2024, 3, 5, 23, 59, 0, 0, loc))
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("DateOf = %v, want %v", got, want)
	}
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("2024-01-15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Year() != 2024 || got.Month() != time.January || got.Day() != 15 {
		t.Errorf("ParseDate = %v", got)
	}
	if _, err := ParseDate("15/01/2024"); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}
