package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/flowtrack_backend/config"
	"bitbucket.org/mmdatafocus/flowtrack_backend/models"
	"bitbucket.org/mmdatafocus/flowtrack_backend/utils"
	"bitbucket.org/mmdatafocus/flowtrack_backend/workflow"
	"github.com/xuri/excelize/v2"
)

func buildTitledStatement(t *testing.T, customerName string) *bytes.Reader {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	_ = f.SetCellValue(sheet, "A1", "2026-03-01至2026-03-03 "+customerName+"流水表")
	_ = f.SetCellValue(sheet, "A2", "日期")
	_ = f.SetCellValue(sheet, "B2", "交易1")
	_ = f.SetCellValue(sheet, "C2", "交易2")

	_ = f.SetCellValue(sheet, "A3", "2026-03-01")
	_ = f.SetCellValue(sheet, "B3", 100)
	_ = f.SetCellValue(sheet, "C3", 200)

	_ = f.SetCellValue(sheet, "A4", "2026-03-02")
	_ = f.SetCellValue(sheet, "B4", 0) // dropped: not strictly positive
	_ = f.SetCellValue(sheet, "C4", 300)

	_ = f.SetCellValue(sheet, "A5", "2026-03-03")
	_ = f.SetCellValue(sheet, "B5", 400)

	_ = f.SetCellValue(sheet, "A6", "总计")
	_ = f.SetCellValue(sheet, "C6", 90000)

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

// Full pipeline: detect layout B, extract range and target from the title
// and totals row, insert details plus day summaries, record the target.
// Re-importing the same period replaces cleanly; an overlapping second
// period is rejected with a conflict.
func TestImportFlowStatementReplacesPeriod(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires MySQL via DB_* env)")
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	config.ConnectRedis()
	if err := models.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUsernameInContext(ctx, "test")

	customerName := fmt.Sprintf("import-test-%d", time.Now().UnixNano())

	runImport := func(periodNumber int) (*workflow.ImportResult, error) {
		return workflow.ImportFlowStatement(ctx, workflow.ImportInput{
			FileName:       "statement.xlsx",
			File:           buildTitledStatement(t, customerName),
			PeriodNumber:   periodNumber,
			UserMode:       workflow.UserModeNew,
			CustomUsername: customerName,
		})
	}

	result, err := runImport(1)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	t.Cleanup(func() {
		adminCtx := utils.SetUserIdInContext(ctx, 0)
		_ = models.DeleteUser(adminCtx, result.CustomerID)
	})

	if !result.IsNewCustomer {
		t.Fatalf("expected a new customer")
	}
	if result.StartDate != "2026-03-01" || result.EndDate != "2026-03-03" {
		t.Fatalf("unexpected range: %s to %s", result.StartDate, result.EndDate)
	}
	if result.RecordCount != 4 {
		t.Fatalf("expected 4 detail records, got %d", result.RecordCount)
	}
	if result.TargetAmount.String() != "90000" {
		t.Fatalf("expected target 90000, got %s", result.TargetAmount.String())
	}
	if result.TotalAmount.String() != "1000" {
		t.Fatalf("expected imported total 1000, got %s", result.TotalAmount.String())
	}

	countRecords := func(isSummary bool) int64 {
		var count int64
		err := config.GetDB().WithContext(ctx).Model(&models.DailyRecord{}).
			Where("customer_id = ? AND is_summary = ?", result.CustomerID, isSummary).
			Count(&count).Error
		if err != nil {
			t.Fatalf("count records: %v", err)
		}
		return count
	}
	if details := countRecords(false); details != 4 {
		t.Fatalf("expected 4 detail rows, got %d", details)
	}
	if summaries := countRecords(true); summaries != 3 {
		t.Fatalf("expected 3 summary rows, got %d", summaries)
	}

	// The audit entry records the imported total alongside the range.
	refType := "monthly_targets"
	histories, err := models.GetHistories(ctx, nil, &refType, nil)
	if err != nil {
		t.Fatalf("list histories: %v", err)
	}
	var imported *models.History
	for _, history := range histories {
		if history.ActionType == models.ActionExcelImport && strings.Contains(history.Description, customerName) {
			imported = history
			break
		}
	}
	if imported == nil {
		t.Fatalf("no import audit entry for %s", customerName)
	}
	if !strings.Contains(imported.Description, "totaling 1000") {
		t.Fatalf("audit entry should carry the imported total, got %q", imported.Description)
	}
	if !strings.Contains(imported.Description, "target 90000") {
		t.Fatalf("audit entry should carry the target amount, got %q", imported.Description)
	}

	// Same period again: old rows are replaced, not duplicated.
	again, err := runImport(1)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if again.IsNewCustomer {
		t.Fatalf("re-import should reuse the customer")
	}
	if details := countRecords(false); details != 4 {
		t.Fatalf("re-import duplicated detail rows: %d", details)
	}
	if summaries := countRecords(true); summaries != 3 {
		t.Fatalf("re-import duplicated summary rows: %d", summaries)
	}

	// A different period covering the same days must be rejected.
	_, err = runImport(2)
	var conflict *utils.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected a conflict error, got %v", err)
	}
	if conflict.PeriodNumber != 1 {
		t.Fatalf("conflict should name period 1, got %d", conflict.PeriodNumber)
	}
}
