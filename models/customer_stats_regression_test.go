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

// Dashboard figures come from detail rows and progress follows the done
// amount only, so a freshly filled period of pending entries reads as zero
// progress. Also covers the operator and channel search filters.
func TestCustomerStatsAndSearchFilters(t *testing.T) {
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

	username := fmt.Sprintf("stats-test-%d", time.Now().UnixNano())
	customer, err := models.CreateCustomer(ctx, username, "")
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}
	t.Cleanup(func() {
		adminCtx := utils.SetUserIdInContext(ctx, 0)
		_ = models.DeleteUser(adminCtx, customer.ID)
	})

	target, err := models.CreateTarget(ctx, models.CreateTargetInput{
		CustomerID:   customer.ID,
		PeriodNumber: 1,
		StartDate:    "2000-01-01",
		EndDate:      "2999-12-31",
		TargetAmount: decimal.NewFromInt(1000),
	})
	if err != nil {
		t.Fatalf("create target: %v", err)
	}

	today := utils.Today()
	first, err := models.CreateRecord(ctx, models.CreateRecordInput{
		CustomerID: customer.ID,
		Date:       today,
		Amount:     decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("create first record: %v", err)
	}
	_, err = models.CreateRecord(ctx, models.CreateRecordInput{
		CustomerID: customer.ID,
		Date:       today,
		Amount:     decimal.NewFromInt(300),
	})
	if err != nil {
		t.Fatalf("create second record: %v", err)
	}

	stats, err := models.GetCustomerStats(ctx, customer.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.CurrentTarget == nil || stats.CurrentTarget.ID != target.ID {
		t.Fatalf("expected target %d as current, got %+v", target.ID, stats.CurrentTarget)
	}
	if stats.TotalAmount.String() != "400" {
		t.Fatalf("expected total 400, got %s", stats.TotalAmount.String())
	}
	if !stats.CompletedAmount.IsZero() {
		t.Fatalf("pending rows must not count as completed, got %s", stats.CompletedAmount.String())
	}
	if stats.Progress == nil || !stats.Progress.IsZero() {
		t.Fatalf("all-pending period should sit at zero progress, got %v", stats.Progress)
	}
	if stats.TodayAmount.String() != "400" {
		t.Fatalf("expected today total 400, got %s", stats.TodayAmount.String())
	}
	if stats.PendingCount != 2 || stats.DoneCount != 0 {
		t.Fatalf("expected 2 pending / 0 done, got %d / %d", stats.PendingCount, stats.DoneCount)
	}

	operator, err := models.CreateOperator(ctx, &customer.ID, "代理一")
	if err != nil {
		t.Fatalf("create operator: %v", err)
	}
	channelId := models.ChannelIdWechat
	_, err = models.UpdateRecordStatus(ctx, first.ID, models.RecordStatusDone,
		models.OperatorRef{Kind: models.OperatorRefNamed, OperatorID: operator.ID}, &channelId)
	if err != nil {
		t.Fatalf("mark done: %v", err)
	}

	stats, err = models.GetCustomerStats(ctx, customer.ID)
	if err != nil {
		t.Fatalf("stats after done: %v", err)
	}
	if stats.CompletedAmount.String() != "100" {
		t.Fatalf("expected completed 100, got %s", stats.CompletedAmount.String())
	}
	if stats.Progress == nil || stats.Progress.String() != "10" {
		t.Fatalf("expected 10%% progress, got %v", stats.Progress)
	}
	if stats.PendingCount != 1 || stats.DoneCount != 1 {
		t.Fatalf("expected 1 pending / 1 done, got %d / %d", stats.PendingCount, stats.DoneCount)
	}

	// A self-keyed record for the filter checks.
	selfRecord, err := models.CreateRecord(ctx, models.CreateRecordInput{
		CustomerID: customer.ID,
		Date:       "2026-01-15",
		Amount:     decimal.NewFromInt(50),
		Operator:   models.OperatorRef{Kind: models.OperatorRefSelf},
	})
	if err != nil {
		t.Fatalf("create self record: %v", err)
	}

	searchOne := func(input models.SearchRecordsInput, wantId int, label string) {
		t.Helper()
		input.CustomerID = &customer.ID
		views, total, err := models.SearchRecords(ctx, input)
		if err != nil {
			t.Fatalf("search %s: %v", label, err)
		}
		if total != 1 || len(views) != 1 || views[0].ID != wantId {
			t.Fatalf("search %s: expected only record %d, got total %d, %d rows", label, wantId, total, len(views))
		}
	}

	namedRef := models.OperatorRef{Kind: models.OperatorRefNamed, OperatorID: operator.ID}
	searchOne(models.SearchRecordsInput{Operator: &namedRef}, first.ID, "named operator")
	selfRef := models.OperatorRef{Kind: models.OperatorRefSelf}
	searchOne(models.SearchRecordsInput{Operator: &selfRef}, selfRecord.ID, "self operator")
	searchOne(models.SearchRecordsInput{ChannelID: &channelId}, first.ID, "channel")

	// Channel id 0 leaves the channel unfiltered.
	anyChannel := 0
	details := false
	_, total, err := models.SearchRecords(ctx, models.SearchRecordsInput{
		CustomerID: &customer.ID,
		ChannelID:  &anyChannel,
		IsSummary:  &details,
	})
	if err != nil {
		t.Fatalf("search any channel: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected all 3 detail rows with channel 0, got %d", total)
	}
}
