package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRangesOverlap_BoundariesAreInclusive(t *testing.T) {
	cases := []struct {
		name     string
		aStart   string
		aEnd     string
		bStart   string
		bEnd     string
		expected bool
	}{
		{"shared boundary day", "2026-01-01", "2026-01-31", "2026-01-31", "2026-02-28", true},
		{"adjacent without touching", "2026-01-01", "2026-01-30", "2026-01-31", "2026-02-28", false},
		{"fully contained", "2026-01-01", "2026-01-31", "2026-01-10", "2026-01-20", true},
		{"identical ranges", "2026-01-01", "2026-01-31", "2026-01-01", "2026-01-31", true},
		{"disjoint months", "2026-01-01", "2026-01-31", "2026-03-01", "2026-03-31", false},
		{"single day inside", "2026-01-15", "2026-01-15", "2026-01-01", "2026-01-31", true},
		{"crosses year boundary", "2025-12-20", "2026-01-05", "2026-01-01", "2026-01-31", true},
	}
	for _, tc := range cases {
		got := rangesOverlap(tc.aStart, tc.aEnd, tc.bStart, tc.bEnd)
		if got != tc.expected {
			t.Fatalf("%s: rangesOverlap(%s,%s vs %s,%s) = %v, expected %v",
				tc.name, tc.aStart, tc.aEnd, tc.bStart, tc.bEnd, got, tc.expected)
		}
	}
	// Symmetry.
	if rangesOverlap("2026-01-31", "2026-02-28", "2026-01-01", "2026-01-31") != true {
		t.Fatalf("overlap check is not symmetric")
	}
}

func TestTargetDailyShare(t *testing.T) {
	// 700 over a 7 day period splits into exact daily shares of 100.
	target := decimal.NewFromInt(700)
	share := target.Div(decimal.NewFromInt(7)).Round(2)
	if share.String() != "100" {
		t.Fatalf("expected daily share 100, got %s", share.String())
	}

	// Uneven splits round to cents.
	target = decimal.NewFromInt(1000)
	share = target.Div(decimal.NewFromInt(3)).Round(2)
	if share.String() != "333.33" {
		t.Fatalf("expected daily share 333.33, got %s", share.String())
	}
}
