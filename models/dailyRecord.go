package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/flowtrack_backend/config"
	"bitbucket.org/mmdatafocus/flowtrack_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DailyRecord holds one flow entry. Detail rows (IsSummary false) carry a
// single transferred amount; summary rows (IsSummary true) aggregate a
// customer's day. OperatorID keeps the raw legacy value, including the magic
// self/admin ids; decode it with DecodeOperatorRef.
type DailyRecord struct {
	ID         int                 `gorm:"primary_key" json:"id"`
	CustomerID int                 `gorm:"index:idx_customer_date;not null" json:"customer_id"`
	Date       string              `gorm:"index:idx_customer_date;size:10;not null" json:"date"`
	Amount     decimal.Decimal     `gorm:"type:decimal(14,2)" json:"amount"`
	OperatorID *int                `json:"operator_id"`
	ChannelID  *int                `json:"channel_id"`
	Status     RecordStatus        `gorm:"type:enum('pending','done');default:'pending'" json:"status"`
	IsSummary  bool                `gorm:"default:false" json:"is_summary"`
	DailyTotal decimal.NullDecimal `gorm:"type:decimal(14,2)" json:"daily_total"`
	CreatedAt  time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// RecordView is a DailyRecord with its references resolved for listings.
type RecordView struct {
	DailyRecord
	Operator     OperatorRef `json:"operator"`
	OperatorName string      `json:"operator_name"`
	ChannelName  string      `json:"channel_name"`
}

type CreateRecordInput struct {
	CustomerID int             `json:"customer_id" binding:"required"`
	Date       string          `json:"date" binding:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Operator   OperatorRef     `json:"operator"`
	ChannelID  *int            `json:"channel_id"`
	Status     RecordStatus    `json:"status"`
}

type SearchRecordsInput struct {
	CustomerID *int          `json:"customer_id"`
	StartDate  *string       `json:"start_date"`
	EndDate    *string       `json:"end_date"`
	Status     *RecordStatus `json:"status"`
	Operator   *OperatorRef  `json:"operator"`
	ChannelID  *int          `json:"channel_id"`
	IsSummary  *bool         `json:"is_summary"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
}

func (record *DailyRecord) View(ctx context.Context) *RecordView {
	ref := DecodeOperatorRef(record.OperatorID)
	view := RecordView{
		DailyRecord: *record,
		Operator:    ref,
	}
	view.OperatorName = ref.DisplayName(ctx)
	if record.ChannelID != nil {
		view.ChannelName = ChannelName(ctx, *record.ChannelID)
	}
	return &view
}

func GetRecord(ctx context.Context, id int) (*DailyRecord, error) {
	db := config.GetDB()
	var record DailyRecord
	if err := db.WithContext(ctx).First(&record, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, utils.WrapStoreError(err)
	}
	return &record, nil
}

// SyncDailySummary recomputes the aggregate row for one customer day inside
// the caller's transaction. At most one summary row exists per (customer,
// date) and its amount equals the sum of that day's detail rows. Days with
// no details get their summary row removed.
func SyncDailySummary(tx *gorm.DB, customerId int, date string) error {
	var total decimal.NullDecimal
	err := tx.Model(&DailyRecord{}).
		Select("SUM(amount)").
		Where("customer_id = ? AND date = ? AND is_summary = ?", customerId, date, false).
		Scan(&total).Error
	if err != nil {
		return utils.WrapStoreError(err)
	}

	if !total.Valid || total.Decimal.IsZero() {
		err := tx.Where("customer_id = ? AND date = ? AND is_summary = ?", customerId, date, true).
			Delete(&DailyRecord{}).Error
		if err != nil {
			return utils.WrapStoreError(err)
		}
		return nil
	}

	var summary DailyRecord
	err = tx.Where("customer_id = ? AND date = ? AND is_summary = ?", customerId, date, true).
		First(&summary).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		summary = DailyRecord{
			CustomerID: customerId,
			Date:       date,
			Amount:     total.Decimal,
			Status:     RecordStatusPending,
			IsSummary:  true,
			DailyTotal: total,
		}
		if err := tx.Create(&summary).Error; err != nil {
			return utils.WrapStoreError(err)
		}
		return nil
	}
	if err != nil {
		return utils.WrapStoreError(err)
	}

	// Existing summary keeps its status; only the amounts move.
	err = tx.Model(&DailyRecord{}).Where("id = ?", summary.ID).Updates(map[string]interface{}{
		"amount":      total.Decimal,
		"daily_total": total.Decimal,
	}).Error
	if err != nil {
		return utils.WrapStoreError(err)
	}
	return nil
}

// CreateRecord adds a manual flow entry and keeps the day's summary row in
// step, both inside one transaction.
func CreateRecord(ctx context.Context, input CreateRecordInput) (*DailyRecord, error) {
	date, err := utils.NormalizeDate(input.Date)
	if err != nil {
		return nil, utils.NewValidationError("invalid date: %s", input.Date)
	}
	if !input.Amount.IsPositive() {
		return nil, utils.NewValidationError("amount must be positive")
	}
	status := input.Status
	if status == "" {
		status = RecordStatusPending
	}
	if !status.Valid() {
		return nil, utils.NewValidationError("invalid status: %s", status)
	}
	if input.ChannelID != nil {
		if err := utils.ValidateResourceId[PaymentChannel](ctx, *input.ChannelID); err != nil {
			return nil, utils.NewValidationError("channel %d not found", *input.ChannelID)
		}
	}

	db := config.GetDB()
	record := DailyRecord{
		CustomerID: input.CustomerID,
		Date:       date,
		Amount:     input.Amount,
		OperatorID: input.Operator.Encode(),
		ChannelID:  input.ChannelID,
		Status:     status,
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return utils.WrapStoreError(err)
		}
		if err := SyncDailySummary(tx, input.CustomerID, date); err != nil {
			return err
		}
		return SaveHistory(tx, ActionAddRecord, record.ID, "daily_records",
			fmt.Sprintf("manual entry %s on %s", record.Amount.String(), date))
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateRecordStatus moves a record between pending and done. Marking done
// requires an operator reference and a channel; moving back to pending
// clears both.
func UpdateRecordStatus(ctx context.Context, id int, status RecordStatus, operator OperatorRef, channelId *int) (*DailyRecord, error) {
	if !status.Valid() {
		return nil, utils.NewValidationError("invalid status: %s", status)
	}

	db := config.GetDB()
	var record DailyRecord
	if err := db.WithContext(ctx).First(&record, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	updates := map[string]interface{}{"status": status}
	switch status {
	case RecordStatusDone:
		if operator.Kind == OperatorRefNone {
			return nil, utils.NewValidationError("operator is required to mark a record done")
		}
		if operator.Kind == OperatorRefNamed {
			if _, err := GetOperator(ctx, operator.OperatorID); err != nil {
				return nil, utils.NewValidationError("operator %d not found", operator.OperatorID)
			}
		}
		if channelId == nil {
			return nil, utils.NewValidationError("channel is required to mark a record done")
		}
		if err := utils.ValidateResourceId[PaymentChannel](ctx, *channelId); err != nil {
			return nil, utils.NewValidationError("channel %d not found", *channelId)
		}
		updates["operator_id"] = operator.Encode()
		updates["channel_id"] = *channelId
	case RecordStatusPending:
		updates["operator_id"] = nil
		updates["channel_id"] = nil
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&DailyRecord{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return utils.WrapStoreError(err)
		}
		return SaveHistory(tx, ActionUpdateRecord, id, "daily_records",
			fmt.Sprintf("status %s on %s", status, record.Date))
	})
	if err != nil {
		return nil, err
	}
	return GetRecord(ctx, id)
}

// DeleteRecord removes a detail row and resyncs its day. Summary rows are
// never deleted directly; they follow their details.
func DeleteRecord(ctx context.Context, id int) error {
	db := config.GetDB()
	var record DailyRecord
	if err := db.WithContext(ctx).First(&record, id).Error; err != nil {
		return utils.ErrorRecordNotFound
	}
	if record.IsSummary {
		return utils.NewValidationError("summary rows cannot be deleted directly")
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&DailyRecord{}, id).Error; err != nil {
			return utils.WrapStoreError(err)
		}
		return SyncDailySummary(tx, record.CustomerID, record.Date)
	})
}

// SearchRecords lists records newest first, with references resolved.
func SearchRecords(ctx context.Context, input SearchRecordsInput) ([]*RecordView, int64, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Model(&DailyRecord{})

	if input.CustomerID != nil {
		query = query.Where("customer_id = ?", *input.CustomerID)
	}
	if input.StartDate != nil {
		startDate, err := utils.NormalizeDate(*input.StartDate)
		if err != nil {
			return nil, 0, utils.NewValidationError("invalid start date: %s", *input.StartDate)
		}
		query = query.Where("date >= ?", startDate)
	}
	if input.EndDate != nil {
		endDate, err := utils.NormalizeDate(*input.EndDate)
		if err != nil {
			return nil, 0, utils.NewValidationError("invalid end date: %s", *input.EndDate)
		}
		query = query.Where("date <= ?", endDate)
	}
	if input.Status != nil {
		query = query.Where("status = ?", *input.Status)
	}
	if input.Operator != nil {
		if operatorId := input.Operator.Encode(); operatorId != nil {
			query = query.Where("operator_id = ?", *operatorId)
		}
	}
	// Channel id 0 means "any channel" on the legacy query form.
	if input.ChannelID != nil && *input.ChannelID != 0 {
		query = query.Where("channel_id = ?", *input.ChannelID)
	}
	if input.IsSummary != nil {
		query = query.Where("is_summary = ?", *input.IsSummary)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, utils.WrapStoreError(err)
	}

	if input.PageSize > 0 {
		page := input.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * input.PageSize).Limit(input.PageSize)
	}

	var records []*DailyRecord
	if err := query.Order("date DESC, id DESC").Find(&records).Error; err != nil {
		return nil, 0, utils.WrapStoreError(err)
	}

	views := make([]*RecordView, 0, len(records))
	for _, record := range records {
		views = append(views, record.View(ctx))
	}
	return views, total, nil
}

// CustomerStats summarizes a customer's current period for the dashboard.
type CustomerStats struct {
	CustomerID      int              `json:"customer_id"`
	CurrentTarget   *MonthlyTarget   `json:"current_target,omitempty"`
	CompletedAmount decimal.Decimal  `json:"completed_amount"`
	TotalAmount     decimal.Decimal  `json:"total_amount"`
	TodayAmount     decimal.Decimal  `json:"today_amount"`
	Progress        *decimal.Decimal `json:"progress,omitempty"`
	PendingCount    int64            `json:"pending_count"`
	DoneCount       int64            `json:"done_count"`
}

// GetCustomerStats aggregates the detail rows of the customer's latest
// period. Progress tracks the done amount against the target, so a period
// full of pending rows sits at zero until entries are confirmed.
func GetCustomerStats(ctx context.Context, customerId int) (*CustomerStats, error) {
	db := config.GetDB()
	stats := CustomerStats{
		CustomerID:      customerId,
		CompletedAmount: decimal.Zero,
		TotalAmount:     decimal.Zero,
		TodayAmount:     decimal.Zero,
	}

	target, err := GetLatestTarget(ctx, customerId)
	if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, err
	}
	stats.CurrentTarget = target

	detailQuery := db.WithContext(ctx).Model(&DailyRecord{}).
		Where("customer_id = ? AND is_summary = ?", customerId, false)
	if target != nil {
		detailQuery = detailQuery.Where("date >= ? AND date <= ?", target.StartDate, target.EndDate)
	}

	var totals struct {
		Completed decimal.NullDecimal
		Total     decimal.NullDecimal
		DoneCount int64
		AllCount  int64
	}
	err = detailQuery.
		Select("SUM(CASE WHEN status = ? THEN amount ELSE 0 END) AS completed,"+
			" SUM(amount) AS total,"+
			" COUNT(CASE WHEN status = ? THEN 1 END) AS done_count,"+
			" COUNT(*) AS all_count",
			RecordStatusDone, RecordStatusDone).
		Scan(&totals).Error
	if err != nil {
		return nil, utils.WrapStoreError(err)
	}
	if totals.Completed.Valid {
		stats.CompletedAmount = totals.Completed.Decimal
	}
	if totals.Total.Valid {
		stats.TotalAmount = totals.Total.Decimal
	}
	stats.DoneCount = totals.DoneCount
	stats.PendingCount = totals.AllCount - totals.DoneCount

	var todayTotal decimal.NullDecimal
	err = db.WithContext(ctx).Model(&DailyRecord{}).
		Select("SUM(amount)").
		Where("customer_id = ? AND is_summary = ? AND date = ?", customerId, false, utils.Today()).
		Scan(&todayTotal).Error
	if err != nil {
		return nil, utils.WrapStoreError(err)
	}
	if todayTotal.Valid {
		stats.TodayAmount = todayTotal.Decimal
	}

	if target != nil && target.TargetAmount.IsPositive() {
		progress := stats.CompletedAmount.Div(target.TargetAmount).Mul(decimal.NewFromInt(100)).Round(2)
		stats.Progress = &progress
	}
	return &stats, nil
}
