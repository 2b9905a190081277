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

// MonthlyTarget is a billing period for one customer. StartDate and EndDate
// are zero-padded YYYY-MM-DD strings so range comparisons can stay
// lexicographic, matching the legacy exports.
type MonthlyTarget struct {
	ID           int             `gorm:"primary_key" json:"id"`
	CustomerID   int             `gorm:"index;not null" json:"customer_id"`
	PeriodNumber int             `gorm:"not null" json:"period_number"`
	StartDate    string          `gorm:"size:10;not null" json:"start_date"`
	EndDate      string          `gorm:"size:10;not null" json:"end_date"`
	YearMonth    string          `gorm:"size:7;index" json:"year_month"`
	TargetAmount decimal.Decimal `gorm:"type:decimal(14,2)" json:"target_amount"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type CreateTargetInput struct {
	CustomerID   int             `json:"customer_id" binding:"required"`
	PeriodNumber int             `json:"period_number" binding:"required"`
	StartDate    string          `json:"start_date" binding:"required"`
	EndDate      string          `json:"end_date" binding:"required"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	FillHistory  bool            `json:"fill_history"`
	FillOperator string          `json:"fill_operator"`
}

// defaultFillOperator labels backfilled rows when the caller gives none.
const defaultFillOperator = "补录"

type UpdateTargetInput struct {
	PeriodNumber *int             `json:"period_number"`
	StartDate    *string          `json:"start_date"`
	EndDate      *string          `json:"end_date"`
	TargetAmount *decimal.Decimal `json:"target_amount"`
}

// rangesOverlap reports whether two inclusive date ranges share at least one
// day. Dates are zero-padded so string comparison follows calendar order.
func rangesOverlap(aStart, aEnd, bStart, bEnd string) bool {
	return aStart <= bEnd && bStart <= aEnd
}

// ValidateNoOverlap checks [startDate, endDate] against every existing
// target of the customer. excludeTargetId skips the target being edited;
// excludePeriodNumber skips the period being replaced by an import. The
// first clashing target is reported as a ConflictError.
func ValidateNoOverlap(tx *gorm.DB, customerId int, startDate string, endDate string, excludeTargetId *int, excludePeriodNumber *int) error {
	var targets []MonthlyTarget
	query := tx.Where("customer_id = ?", customerId)
	if excludeTargetId != nil {
		query = query.Where("id != ?", *excludeTargetId)
	}
	if excludePeriodNumber != nil {
		query = query.Where("period_number != ?", *excludePeriodNumber)
	}
	if err := query.Order("start_date ASC").Find(&targets).Error; err != nil {
		return utils.WrapStoreError(err)
	}
	for _, target := range targets {
		if rangesOverlap(startDate, endDate, target.StartDate, target.EndDate) {
			return &utils.ConflictError{
				PeriodNumber: target.PeriodNumber,
				StartDate:    target.StartDate,
				EndDate:      target.EndDate,
			}
		}
	}
	return nil
}

func GetTargets(ctx context.Context, customerId int) ([]*MonthlyTarget, error) {
	db := config.GetDB()
	var targets []*MonthlyTarget
	err := db.WithContext(ctx).
		Where("customer_id = ?", customerId).
		Order("start_date DESC").
		Find(&targets).Error
	if err != nil {
		return nil, utils.WrapStoreError(err)
	}
	return targets, nil
}

func GetTarget(ctx context.Context, id int) (*MonthlyTarget, error) {
	db := config.GetDB()
	var target MonthlyTarget
	if err := db.WithContext(ctx).First(&target, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, utils.WrapStoreError(err)
	}
	return &target, nil
}

// GetLatestTarget returns the customer's highest-numbered period, or
// ErrorRecordNotFound when they have none. Period numbers order the
// dashboard's "current" period even when ranges were entered out of order.
func GetLatestTarget(ctx context.Context, customerId int) (*MonthlyTarget, error) {
	db := config.GetDB()
	var target MonthlyTarget
	err := db.WithContext(ctx).
		Where("customer_id = ?", customerId).
		Order("period_number DESC").
		First(&target).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, utils.WrapStoreError(err)
	}
	return &target, nil
}

func CreateTarget(ctx context.Context, input CreateTargetInput) (*MonthlyTarget, error) {
	startDate, err := utils.NormalizeDate(input.StartDate)
	if err != nil {
		return nil, utils.NewValidationError("invalid start date: %s", input.StartDate)
	}
	endDate, err := utils.NormalizeDate(input.EndDate)
	if err != nil {
		return nil, utils.NewValidationError("invalid end date: %s", input.EndDate)
	}
	if startDate > endDate {
		return nil, utils.NewValidationError("start date is after end date")
	}
	if input.TargetAmount.IsNegative() {
		return nil, utils.NewValidationError("target amount cannot be negative")
	}

	db := config.GetDB()
	target := MonthlyTarget{
		CustomerID:   input.CustomerID,
		PeriodNumber: input.PeriodNumber,
		StartDate:    startDate,
		EndDate:      endDate,
		YearMonth:    utils.YearMonth(startDate),
		TargetAmount: input.TargetAmount,
	}
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&MonthlyTarget{}).
			Where("customer_id = ? AND period_number = ?", input.CustomerID, input.PeriodNumber).
			Count(&count).Error
		if err != nil {
			return utils.WrapStoreError(err)
		}
		if count > 0 {
			return utils.NewValidationError("period %d already exists for this customer", input.PeriodNumber)
		}
		if err := ValidateNoOverlap(tx, input.CustomerID, startDate, endDate, nil, nil); err != nil {
			return err
		}
		if err := tx.Create(&target).Error; err != nil {
			return utils.WrapStoreError(err)
		}
		if input.FillHistory {
			if err := backfillTargetHistory(tx, &target, input.FillOperator); err != nil {
				return err
			}
		}
		return SaveHistory(tx, ActionAddTarget, target.ID, "monthly_targets",
			fmt.Sprintf("period %d (%s to %s), target %s", target.PeriodNumber, startDate, endDate, target.TargetAmount.String()))
	})
	if err != nil {
		return nil, err
	}
	return &target, nil
}

// backfillTargetHistory synthesizes one done summary row per day from the
// period start through today, each carrying an equal share of the target
// amount and the given operator label. Days that already have records are
// left alone so backfill can never clobber real data.
func backfillTargetHistory(tx *gorm.DB, target *MonthlyTarget, operatorLabel string) error {
	today := utils.Today()
	if target.StartDate > today {
		return nil
	}
	dates, err := utils.GenerateDateRange(target.StartDate, today)
	if err != nil {
		return utils.NewValidationError("invalid backfill window: %v", err)
	}
	dailyAmount := target.TargetAmount.Div(decimal.NewFromInt(int64(len(dates)))).Round(2)

	if operatorLabel == "" {
		operatorLabel = defaultFillOperator
	}
	operator, err := findOrCreateOperator(tx, &target.CustomerID, operatorLabel)
	if err != nil {
		return err
	}
	operatorRef := OperatorRef{Kind: OperatorRefNamed, OperatorID: operator.ID}

	for _, date := range dates {
		var count int64
		err := tx.Model(&DailyRecord{}).
			Where("customer_id = ? AND date = ?", target.CustomerID, date).
			Count(&count).Error
		if err != nil {
			return utils.WrapStoreError(err)
		}
		if count > 0 {
			continue
		}
		record := DailyRecord{
			CustomerID: target.CustomerID,
			Date:       date,
			Amount:     dailyAmount,
			OperatorID: operatorRef.Encode(),
			Status:     RecordStatusDone,
			IsSummary:  true,
			DailyTotal: decimal.NewNullDecimal(dailyAmount),
		}
		if err := tx.Create(&record).Error; err != nil {
			return utils.WrapStoreError(err)
		}
	}
	return nil
}

func UpdateTarget(ctx context.Context, id int, input UpdateTargetInput) (*MonthlyTarget, error) {
	db := config.GetDB()

	var target MonthlyTarget
	if err := db.WithContext(ctx).First(&target, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	if input.PeriodNumber != nil {
		target.PeriodNumber = *input.PeriodNumber
	}
	if input.StartDate != nil {
		startDate, err := utils.NormalizeDate(*input.StartDate)
		if err != nil {
			return nil, utils.NewValidationError("invalid start date: %s", *input.StartDate)
		}
		target.StartDate = startDate
		target.YearMonth = utils.YearMonth(startDate)
	}
	if input.EndDate != nil {
		endDate, err := utils.NormalizeDate(*input.EndDate)
		if err != nil {
			return nil, utils.NewValidationError("invalid end date: %s", *input.EndDate)
		}
		target.EndDate = endDate
	}
	if input.TargetAmount != nil {
		if input.TargetAmount.IsNegative() {
			return nil, utils.NewValidationError("target amount cannot be negative")
		}
		target.TargetAmount = *input.TargetAmount
	}
	if target.StartDate > target.EndDate {
		return nil, utils.NewValidationError("start date is after end date")
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ValidateNoOverlap(tx, target.CustomerID, target.StartDate, target.EndDate, &target.ID, nil); err != nil {
			return err
		}
		if err := tx.Save(&target).Error; err != nil {
			return utils.WrapStoreError(err)
		}
		return SaveHistory(tx, ActionEditTarget, target.ID, "monthly_targets",
			fmt.Sprintf("period %d (%s to %s), target %s", target.PeriodNumber, target.StartDate, target.EndDate, target.TargetAmount.String()))
	})
	if err != nil {
		return nil, err
	}
	return &target, nil
}

// DeleteTarget removes a period. deleteRecords also removes the flow
// records inside the period's date range.
func DeleteTarget(ctx context.Context, id int, deleteRecords bool) error {
	db := config.GetDB()

	var target MonthlyTarget
	if err := db.WithContext(ctx).First(&target, id).Error; err != nil {
		return utils.ErrorRecordNotFound
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if deleteRecords {
			err := tx.Where("customer_id = ? AND date >= ? AND date <= ?",
				target.CustomerID, target.StartDate, target.EndDate).
				Delete(&DailyRecord{}).Error
			if err != nil {
				return utils.WrapStoreError(err)
			}
		}
		if err := tx.Delete(&MonthlyTarget{}, id).Error; err != nil {
			return utils.WrapStoreError(err)
		}
		return SaveHistory(tx, ActionDeleteTarget, id, "monthly_targets",
			fmt.Sprintf("period %d (%s to %s)", target.PeriodNumber, target.StartDate, target.EndDate))
	})
}
