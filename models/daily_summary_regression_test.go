package models_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/flowtrack_backend/config"
	"bitbucket.org/mmdatafocus/flowtrack_backend/models"
	"bitbucket.org/mmdatafocus/flowtrack_backend/utils"
	"github.com/shopspring/decimal"
)

// Verifies the day aggregate invariant: at most one summary row per customer
// day, amount equal to the sum of the detail rows, removed when the last
// detail goes.
func TestDailySummaryFollowsDetails(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires MySQL via DB_* env)")
	}

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	if err := models.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUsernameInContext(ctx, "test")

	username := fmt.Sprintf("summary-test-%d", time.Now().UnixNano())
	customer, err := models.CreateCustomer(ctx, username, "")
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	t.Cleanup(func() {
		adminCtx := utils.SetUserIdInContext(ctx, 0)
		_ = models.DeleteUser(adminCtx, customer.ID)
	})

	const day = "2026-03-10"
	first, err := models.CreateRecord(ctx, models.CreateRecordInput{
		CustomerID: customer.ID,
		Date:       day,
		Amount:     decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("create first record: %v", err)
	}
	second, err := models.CreateRecord(ctx, models.CreateRecordInput{
		CustomerID: customer.ID,
		Date:       day,
		Amount:     decimal.NewFromInt(250),
	})
	if err != nil {
		t.Fatalf("create second record: %v", err)
	}

	assertSummary := func(expected string) {
		t.Helper()
		db := config.GetDB()
		var summaries []models.DailyRecord
		err := db.WithContext(ctx).
			Where("customer_id = ? AND date = ? AND is_summary = ?", customer.ID, day, true).
			Find(&summaries).Error
		if err != nil {
			t.Fatalf("load summaries: %v", err)
		}
		if expected == "" {
			if len(summaries) != 0 {
				t.Fatalf("expected no summary row, got %d", len(summaries))
			}
			return
		}
		if len(summaries) != 1 {
			t.Fatalf("expected exactly one summary row, got %d", len(summaries))
		}
		if summaries[0].Amount.String() != expected {
			t.Fatalf("expected summary amount %s, got %s", expected, summaries[0].Amount.String())
		}
	}

	assertSummary("350")

	if err := models.DeleteRecord(ctx, second.ID); err != nil {
		t.Fatalf("delete second record: %v", err)
	}
	assertSummary("100")

	if err := models.DeleteRecord(ctx, first.ID); err != nil {
		t.Fatalf("delete first record: %v", err)
	}
	assertSummary("")
}
