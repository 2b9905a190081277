package workflow

import (
	"testing"

	"bitbucket.org/mmdatafocus/flowtrack_backend/models"
	"bitbucket.org/mmdatafocus/flowtrack_backend/utils"
)

func TestDetectSheetLayout_TitledStatement(t *testing.T) {
	rows := [][]string{
		{"2026-01-27至2026-02-27 李先生流水表"},
		{"日期", "交易1", "交易2"},
		{"2026-01-27", "100", "200"},
	}
	detection := DetectSheetLayout(rows)
	if detection.Layout != models.SheetLayoutB {
		t.Fatalf("expected layout B, got %s", detection.Layout)
	}
	if detection.DataStart != 2 {
		t.Fatalf("expected data start 2, got %d", detection.DataStart)
	}

	dateRange, name := ParseSheetTitle(detection.TitleCell)
	if dateRange != "2026-01-27至2026-02-27" {
		t.Fatalf("unexpected date range: %s", dateRange)
	}
	if name != "李先生" {
		t.Fatalf("expected customer name 李先生, got %q", name)
	}
}

func TestDetectSheetLayout_HeaderlessStatement(t *testing.T) {
	cases := [][][]string{
		{{"日期", "交易1"}, {"2026-01-27", "100"}},
		// Separator present but no second token: not a title row.
		{{"2026-01-27至2026-02-27"}, {"2026-01-27", "100"}},
		{},
	}
	for i, rows := range cases {
		detection := DetectSheetLayout(rows)
		if detection.Layout != models.SheetLayoutA {
			t.Fatalf("case %d: expected layout A, got %s", i, detection.Layout)
		}
		if detection.DataStart != 1 {
			t.Fatalf("case %d: expected data start 1, got %d", i, detection.DataStart)
		}
	}
}

func TestInferDateRangeFromData(t *testing.T) {
	dataRows := [][]string{
		{"2026-01-27", "100"},
		{"2026-01-28", "200"},
		{"2026-01-29", "300"},
		{"总计", "600"},
	}
	got := InferDateRangeFromData(dataRows)
	// Last data date comes from the second-to-last row, above the totals row.
	if got != "2026-01-27至2026-01-29" {
		t.Fatalf("unexpected inferred range: %s", got)
	}

	if got := InferDateRangeFromData(nil); got != "" {
		t.Fatalf("expected empty range for no rows, got %s", got)
	}

	single := [][]string{{"2026-01-27", "100"}}
	if got := InferDateRangeFromData(single); got != "2026-01-27至2026-01-27" {
		t.Fatalf("unexpected single-row range: %s", got)
	}
}

func TestSplitDateRange(t *testing.T) {
	start, end := SplitDateRange("2026-01-27至2026-02-27")
	if start != "2026-01-27" || end != "2026-02-27" {
		t.Fatalf("unexpected range: %s to %s", start, end)
	}

	// Unpadded dates normalize to the canonical form.
	start, end = SplitDateRange("2026-1-5至2026-2-7")
	if start != "2026-01-05" || end != "2026-02-07" {
		t.Fatalf("unexpected normalized range: %s to %s", start, end)
	}

	// No separator collapses to a single day.
	start, end = SplitDateRange("2026-01-27")
	if start != "2026-01-27" || end != "2026-01-27" {
		t.Fatalf("unexpected single-day range: %s to %s", start, end)
	}

	// Empty range falls back to today.
	today := utils.Today()
	start, end = SplitDateRange("")
	if start != today || end != today {
		t.Fatalf("expected today fallback, got %s to %s", start, end)
	}

	// Unparsable start falls back to today, end follows start.
	start, end = SplitDateRange("garbage至nonsense")
	if start != today || end != today {
		t.Fatalf("expected today fallback for garbage, got %s to %s", start, end)
	}
}

func TestExtractTargetAmount(t *testing.T) {
	dataRows := [][]string{
		{"2026-01-27", "100", "200"},
		{"总计", "", "500000"},
	}
	amount := ExtractTargetAmount(dataRows)
	if amount.String() != "500000" {
		t.Fatalf("expected target 500000, got %s", amount.String())
	}

	if got := ExtractTargetAmount(nil); !got.IsZero() {
		t.Fatalf("expected zero target for no rows, got %s", got.String())
	}

	unparsable := [][]string{{"2026-01-27", "100"}, {"总计", "五十万"}}
	if got := ExtractTargetAmount(unparsable); !got.IsZero() {
		t.Fatalf("expected zero target for unparsable cell, got %s", got.String())
	}

	// Only the final cell counts; an empty last cell never falls back to an
	// earlier column.
	trailingEmpty := [][]string{{"2026-01-27", "100"}, {"总计", "500000", ""}}
	if got := ExtractTargetAmount(trailingEmpty); !got.IsZero() {
		t.Fatalf("expected zero target for empty last cell, got %s", got.String())
	}

	markerOnly := [][]string{{"2026-01-27", "100"}, {"总计"}}
	if got := ExtractTargetAmount(markerOnly); !got.IsZero() {
		t.Fatalf("expected zero target for bare totals marker, got %s", got.String())
	}
}

func TestParseFlowRows_DropsNonPositiveAmounts(t *testing.T) {
	dataRows := [][]string{
		{"2026-01-27", "0", "-5", "abc", "100"},
		{"2026-01-28", "", ""},
		{"总计", "600"},
		{"not-a-date", "100"},
	}
	days := ParseFlowRows(dataRows)
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(days))
	}

	first := days[0]
	if first.Date != "2026-01-27" {
		t.Fatalf("unexpected date: %s", first.Date)
	}
	if len(first.Amounts) != 1 || first.Amounts[0].String() != "100" {
		t.Fatalf("expected single amount 100, got %v", first.Amounts)
	}
	if first.Total().String() != "100" {
		t.Fatalf("expected day total 100, got %s", first.Total().String())
	}

	// Rows with no usable amount still count toward the date range.
	second := days[1]
	if second.Date != "2026-01-28" || len(second.Amounts) != 0 {
		t.Fatalf("expected empty day 2026-01-28, got %+v", second)
	}
	if !second.Total().IsZero() {
		t.Fatalf("expected zero total for empty day, got %s", second.Total().String())
	}
}

func TestParseFlowRows_NormalizesDates(t *testing.T) {
	dataRows := [][]string{
		{"2026-1-5", "100"},
		{"2026/01/06", "200"},
	}
	days := ParseFlowRows(dataRows)
	if len(days) != 2 {
		t.Fatalf("expected 2 days, got %d", len(days))
	}
	if days[0].Date != "2026-01-05" || days[1].Date != "2026-01-06" {
		t.Fatalf("dates not normalized: %s, %s", days[0].Date, days[1].Date)
	}
}
