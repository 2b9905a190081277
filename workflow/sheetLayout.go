package workflow

import (
	"strings"

	"bitbucket.org/mmdatafocus/flowtrack_backend/config"
	"bitbucket.org/mmdatafocus/flowtrack_backend/models"
	"bitbucket.org/mmdatafocus/flowtrack_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	// dateRangeSeparator joins the two dates in a statement title,
	// e.g. "2026-01-27至2026-02-27 李先生流水表".
	dateRangeSeparator = "至"
	// sheetTitleSuffix trails the customer name in titled statements.
	sheetTitleSuffix = "流水表"
	// totalsRowMarker labels the trailing totals row of a statement.
	totalsRowMarker = "总计"

	// maxAmountColumns bounds the per-day transaction columns. Statements
	// carry up to twenty transfers per day after the date column.
	maxAmountColumns = 20
)

// SheetDetection records which statement layout a workbook uses and where
// its data rows start.
//
// Layout A has no title row: the first row is the header and data follows.
// Layout B opens with a title row carrying the date range and customer
// name, the header sits on the second row and data follows from the third.
type SheetDetection struct {
	Layout    models.SheetLayout
	TitleCell string
	DataStart int
}

func cellAt(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// DetectSheetLayout classifies the sheet by its first cell. A title row is
// recognized by the date-range separator plus at least two whitespace
// separated parts (range and name).
func DetectSheetLayout(rows [][]string) SheetDetection {
	firstCell := ""
	if len(rows) > 0 {
		firstCell = cellAt(rows[0], 0)
	}
	if strings.Contains(firstCell, dateRangeSeparator) && len(strings.Fields(firstCell)) >= 2 {
		return SheetDetection{Layout: models.SheetLayoutB, TitleCell: firstCell, DataStart: 2}
	}
	return SheetDetection{Layout: models.SheetLayoutA, DataStart: 1}
}

// ParseSheetTitle splits a Layout B title into its raw date range and the
// customer name, with the statement suffix stripped.
func ParseSheetTitle(titleCell string) (dateRange string, customerName string) {
	parts := strings.Fields(titleCell)
	if len(parts) > 0 {
		dateRange = parts[0]
	}
	if len(parts) > 1 {
		customerName = strings.TrimSpace(strings.ReplaceAll(strings.Join(parts[1:], " "), sheetTitleSuffix, ""))
	}
	return dateRange, customerName
}

// InferDateRangeFromData reconstructs a raw date range from the data rows of
// an untitled statement: first data row's date through the second-to-last
// row's date, the last row being the totals row.
func InferDateRangeFromData(dataRows [][]string) string {
	if len(dataRows) == 0 {
		return ""
	}
	firstDate := cellAt(dataRows[0], 0)
	lastDate := firstDate
	if len(dataRows) >= 2 {
		lastDate = cellAt(dataRows[len(dataRows)-2], 0)
	}
	if firstDate == "" {
		return ""
	}
	return firstDate + dateRangeSeparator + lastDate
}

// SplitDateRange resolves a raw date range into normalized start and end
// dates. Every fallback is logged so operators can trace why an import
// landed on a given range: a range without the separator collapses to a
// single day, an empty or unparsable range falls back to today.
func SplitDateRange(rawRange string) (startDate string, endDate string) {
	logger := config.GetLogger()

	if strings.Contains(rawRange, dateRangeSeparator) {
		parts := strings.SplitN(rawRange, dateRangeSeparator, 2)
		startDate, endDate = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	} else {
		startDate = strings.TrimSpace(rawRange)
		endDate = startDate
		if rawRange != "" {
			logger.WithFields(logrus.Fields{"range": rawRange}).
				Info("date range has no separator, treating as single day")
		}
	}

	if startDate == "" || endDate == "" {
		today := utils.Today()
		logger.WithFields(logrus.Fields{"range": rawRange, "fallback": today}).
			Info("statement date range is empty, falling back to today")
		return today, today
	}

	normalizedStart, err := utils.NormalizeDate(startDate)
	if err != nil {
		today := utils.Today()
		logger.WithFields(logrus.Fields{"start_date": startDate, "fallback": today}).
			Info("start date is unparsable, falling back to today")
		normalizedStart = today
	}
	normalizedEnd, err := utils.NormalizeDate(endDate)
	if err != nil {
		logger.WithFields(logrus.Fields{"end_date": endDate, "fallback": normalizedStart}).
			Info("end date is unparsable, falling back to start date")
		normalizedEnd = normalizedStart
	}
	return normalizedStart, normalizedEnd
}

// ExtractTargetAmount reads the period target from the last cell of the
// last data row (the totals row). A missing or unparsable cell yields zero
// rather than an error.
func ExtractTargetAmount(dataRows [][]string) decimal.Decimal {
	if len(dataRows) == 0 {
		return decimal.Zero
	}
	lastRow := dataRows[len(dataRows)-1]
	if len(lastRow) == 0 {
		return decimal.Zero
	}
	amount, err := utils.ParseDecimal(strings.TrimSpace(lastRow[len(lastRow)-1]))
	if err != nil {
		return decimal.Zero
	}
	return amount
}

// FlowDay is one parsed data row: a calendar day with its positive
// transaction amounts. Rows whose cells held no usable amount still appear
// with an empty Amounts slice so date-range prescans see every day.
type FlowDay struct {
	Date    string
	Amounts []decimal.Decimal
}

func (day FlowDay) Total() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range day.Amounts {
		total = total.Add(amount)
	}
	return total
}

// ParseFlowRows walks the data rows and collects per-day amounts from the
// transaction columns. Totals rows and rows without a parsable date are
// skipped; zero, negative and non-numeric cells are dropped.
func ParseFlowRows(dataRows [][]string) []FlowDay {
	logger := config.GetLogger()

	days := make([]FlowDay, 0, len(dataRows))
	for _, row := range dataRows {
		dateCell := cellAt(row, 0)
		if dateCell == "" || dateCell == totalsRowMarker {
			continue
		}
		date, err := utils.NormalizeDate(dateCell)
		if err != nil {
			logger.WithFields(logrus.Fields{"cell": dateCell}).
				Info("skipping row with unparsable date")
			continue
		}

		day := FlowDay{Date: date}
		for i := 1; i <= maxAmountColumns; i++ {
			cell := cellAt(row, i)
			if cell == "" {
				continue
			}
			amount, err := utils.ParseDecimal(cell)
			if err != nil || !amount.IsPositive() {
				continue
			}
			day.Amounts = append(day.Amounts, amount)
		}
		days = append(days, day)
	}
	return days
}
