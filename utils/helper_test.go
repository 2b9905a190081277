package utils

import "testing"

func TestNormalizeDate(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"2026-01-05", "2026-01-05"},
		{"2026-1-5", "2026-01-05"},
		{"2026/01/05", "2026-01-05"},
		{"2026/1/5", "2026-01-05"},
		{"2026.1.5", "2026-01-05"},
		{"  2026-01-05  ", "2026-01-05"},
	}
	for _, tc := range cases {
		got, err := NormalizeDate(tc.in)
		if err != nil {
			t.Fatalf("NormalizeDate(%q) error: %v", tc.in, err)
		}
		if got != tc.expected {
			t.Fatalf("NormalizeDate(%q) = %q, expected %q", tc.in, got, tc.expected)
		}
	}

	for _, bad := range []string{"", "总计", "05-01-2026", "garbage"} {
		if _, err := NormalizeDate(bad); err == nil {
			t.Fatalf("NormalizeDate(%q) should fail", bad)
		}
	}
}

func TestGenerateDateRange(t *testing.T) {
	dates, err := GenerateDateRange("2026-01-27", "2026-02-02")
	if err != nil {
		t.Fatalf("GenerateDateRange error: %v", err)
	}
	if len(dates) != 7 {
		t.Fatalf("expected 7 days, got %d", len(dates))
	}
	if dates[0] != "2026-01-27" || dates[len(dates)-1] != "2026-02-02" {
		t.Fatalf("unexpected endpoints: %s, %s", dates[0], dates[len(dates)-1])
	}

	// Degenerate range is a single day.
	dates, err = GenerateDateRange("2026-01-27", "2026-01-27")
	if err != nil {
		t.Fatalf("GenerateDateRange error: %v", err)
	}
	if len(dates) != 1 {
		t.Fatalf("expected 1 day, got %d", len(dates))
	}

	if _, err := GenerateDateRange("2026-02-02", "2026-01-27"); err == nil {
		t.Fatalf("reversed range should fail")
	}
}

func TestYearMonth(t *testing.T) {
	if got := YearMonth("2026-01-27"); got != "2026-01" {
		t.Fatalf("YearMonth = %q", got)
	}
	// Short inputs pass through untouched.
	if got := YearMonth("2026"); got != "2026" {
		t.Fatalf("YearMonth short input = %q", got)
	}
}
