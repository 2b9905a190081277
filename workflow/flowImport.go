package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/flowtrack_backend/config"
	"bitbucket.org/mmdatafocus/flowtrack_backend/models"
	"bitbucket.org/mmdatafocus/flowtrack_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const moduleName = "flowImport.go"

// UserMode selects how an import resolves its customer account.
type UserMode string

const (
	// UserModeNew creates the customer when missing, named after the
	// custom username or the sheet title.
	UserModeNew UserMode = "new"
	// UserModeExisting imports into an already chosen customer.
	UserModeExisting UserMode = "existing"
)

type ImportInput struct {
	FileName           string
	File               io.Reader
	PeriodNumber       int
	UserMode           UserMode
	CustomUsername     string
	ExistingCustomerID *int
}

type ImportResult struct {
	CustomerID    int                `json:"customer_id"`
	CustomerName  string             `json:"customer_name"`
	IsNewCustomer bool               `json:"is_new_customer"`
	PeriodNumber  int                `json:"period_number"`
	Layout        models.SheetLayout `json:"layout"`
	StartDate     string             `json:"start_date"`
	EndDate       string             `json:"end_date"`
	TargetAmount  decimal.Decimal    `json:"target_amount"`
	RecordCount   int                `json:"record_count"`
	TotalAmount   decimal.Decimal    `json:"total_amount"`
}

// ImportFlowStatement parses an uploaded statement and replaces the named
// period for its customer: old records in the period's former range and the
// old target go away, the parsed rows and the new target come in, all in one
// transaction. A per-customer lock keeps concurrent imports from interleaving
// their delete and insert phases.
func ImportFlowStatement(ctx context.Context, input ImportInput) (*ImportResult, error) {
	logger := config.GetLogger()

	result, err := importFlowStatement(ctx, logger, input)
	if err != nil {
		models.LogAction(ctx, models.ActionExcelImportError, 0, "daily_records",
			fmt.Sprintf("import of %s failed: %v", input.FileName, err))
		return nil, err
	}
	return result, nil
}

func importFlowStatement(ctx context.Context, logger *logrus.Logger, input ImportInput) (*ImportResult, error) {
	lower := strings.ToLower(input.FileName)
	if !strings.HasSuffix(lower, ".xlsx") && !strings.HasSuffix(lower, ".xls") {
		return nil, utils.NewFormatError("unsupported file type: %s", input.FileName)
	}
	if input.PeriodNumber <= 0 {
		input.PeriodNumber = 1
	}

	workbook, err := excelize.OpenReader(input.File)
	if err != nil {
		return nil, utils.NewFormatError("cannot open workbook: %v", err)
	}
	defer workbook.Close()

	sheetName := workbook.GetSheetName(0)
	rows, err := workbook.GetRows(sheetName)
	if err != nil {
		return nil, utils.NewFormatError("cannot read sheet %s: %v", sheetName, err)
	}

	detection := DetectSheetLayout(rows)
	dataRows := [][]string{}
	if len(rows) > detection.DataStart {
		dataRows = rows[detection.DataStart:]
	}
	logger.WithFields(logrus.Fields{
		"file":   input.FileName,
		"layout": detection.Layout,
		"rows":   len(dataRows),
	}).Info("detected statement layout")

	rawRange := ""
	sheetCustomerName := ""
	if detection.Layout == models.SheetLayoutB {
		rawRange, sheetCustomerName = ParseSheetTitle(detection.TitleCell)
	}

	targetAmount := decimal.Zero
	if rawRange == "" && len(dataRows) > 0 {
		rawRange = InferDateRangeFromData(dataRows)
		targetAmount = ExtractTargetAmount(dataRows)
		logger.WithFields(logrus.Fields{"range": rawRange, "target": targetAmount}).
			Info("inferred date range and target from data rows")
	}

	startDate, endDate := SplitDateRange(rawRange)
	yearMonth := utils.YearMonth(startDate)

	if targetAmount.IsZero() {
		targetAmount = ExtractTargetAmount(dataRows)
		logger.WithFields(logrus.Fields{"target": targetAmount}).
			Info("read target amount from totals row")
	}

	days := ParseFlowRows(dataRows)

	// The stored range follows the dates actually present in the data, not
	// the title, so a truncated statement cannot reserve days it has no
	// rows for.
	actualStart, actualEnd := startDate, endDate
	if len(days) > 0 {
		importDates := make([]string, 0, len(days))
		for _, day := range days {
			importDates = append(importDates, day.Date)
		}
		importDates = utils.UniqueSlice(importDates)
		sort.Strings(importDates)
		actualStart, actualEnd = importDates[0], importDates[len(importDates)-1]
	}

	customer, newCustomerName, err := lookupImportCustomer(ctx, input, sheetCustomerName)
	if err != nil {
		return nil, err
	}

	lockKey := "name:" + newCustomerName
	if customer != nil {
		lockKey = strconv.Itoa(customer.ID)
	}
	release, err := utils.CustomerLock(ctx, lockKey, moduleName, "ImportFlowStatement")
	if err != nil {
		return nil, err
	}
	defer release()

	result := ImportResult{
		IsNewCustomer: customer == nil,
		PeriodNumber:  input.PeriodNumber,
		Layout:        detection.Layout,
		StartDate:     actualStart,
		EndDate:       actualEnd,
		TargetAmount:  targetAmount,
		TotalAmount:   decimal.Zero,
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Implicit customer creation joins the import transaction: a
		// rejected import leaves no account behind.
		if customer == nil {
			customer, err = models.CreateCustomerTx(tx, newCustomerName, models.DefaultCustomerPassword)
			if err != nil {
				return err
			}
		}
		result.CustomerID = customer.ID
		result.CustomerName = customer.Username

		excludePeriod := input.PeriodNumber
		if err := models.ValidateNoOverlap(tx, customer.ID, actualStart, actualEnd, nil, &excludePeriod); err != nil {
			return err
		}

		// Replace semantics: wipe the period's previous range before
		// inserting, so re-importing a corrected statement is clean.
		var currentTarget models.MonthlyTarget
		err := tx.Where("customer_id = ? AND period_number = ?", customer.ID, input.PeriodNumber).
			First(&currentTarget).Error
		if err == nil {
			err = tx.Where("customer_id = ? AND date >= ? AND date <= ?",
				customer.ID, currentTarget.StartDate, currentTarget.EndDate).
				Delete(&models.DailyRecord{}).Error
			if err != nil {
				return utils.WrapStoreError(err)
			}
			if err := tx.Delete(&models.MonthlyTarget{}, currentTarget.ID).Error; err != nil {
				return utils.WrapStoreError(err)
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.WrapStoreError(err)
		}

		for _, day := range days {
			if len(day.Amounts) == 0 {
				continue
			}
			for _, amount := range day.Amounts {
				record := models.DailyRecord{
					CustomerID: customer.ID,
					Date:       day.Date,
					Amount:     amount,
					Status:     models.RecordStatusPending,
				}
				if err := tx.Create(&record).Error; err != nil {
					return utils.WrapStoreError(err)
				}
				result.RecordCount++
			}
			dayTotal := day.Total()
			summary := models.DailyRecord{
				CustomerID: customer.ID,
				Date:       day.Date,
				Amount:     dayTotal,
				Status:     models.RecordStatusPending,
				IsSummary:  true,
				DailyTotal: decimal.NewNullDecimal(dayTotal),
			}
			if err := tx.Create(&summary).Error; err != nil {
				return utils.WrapStoreError(err)
			}
			result.TotalAmount = result.TotalAmount.Add(dayTotal)
		}

		target := models.MonthlyTarget{
			CustomerID:   customer.ID,
			PeriodNumber: input.PeriodNumber,
			StartDate:    actualStart,
			EndDate:      actualEnd,
			YearMonth:    yearMonth,
			TargetAmount: targetAmount,
		}
		if err := tx.Create(&target).Error; err != nil {
			return utils.WrapStoreError(err)
		}

		return models.SaveHistory(tx, models.ActionExcelImport, target.ID, "monthly_targets",
			fmt.Sprintf("imported %s: %d records (%s to %s) totaling %s for %s, period %d, target %s",
				input.FileName, result.RecordCount, actualStart, actualEnd,
				result.TotalAmount.String(), customer.Username, input.PeriodNumber, targetAmount.String()))
	})
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"file":     input.FileName,
		"customer": customer.Username,
		"records":  result.RecordCount,
		"start":    actualStart,
		"end":      actualEnd,
		"total":    result.TotalAmount,
	}).Info("statement imported")
	return &result, nil
}

// lookupImportCustomer resolves the account an import targets. A nil
// customer with a non-empty name means the import should create the account
// inside its own transaction.
func lookupImportCustomer(ctx context.Context, input ImportInput, sheetCustomerName string) (*models.User, string, error) {
	switch input.UserMode {
	case UserModeExisting:
		if input.ExistingCustomerID == nil {
			return nil, "", utils.NewValidationError("an existing customer must be selected")
		}
		customer, err := models.GetUser(ctx, *input.ExistingCustomerID)
		if err != nil {
			return nil, "", utils.NewValidationError("customer %d not found", *input.ExistingCustomerID)
		}
		return customer, "", nil

	case UserModeNew, "":
		name := strings.TrimSpace(input.CustomUsername)
		if name == "" {
			name = sheetCustomerName
		}
		if name == "" {
			return nil, "", utils.NewValidationError("customer name missing: provide a username or use a titled statement")
		}
		customer, err := models.GetUserByUsername(ctx, name)
		if err == nil {
			return customer, "", nil
		}
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, "", err
		}
		return nil, name, nil

	default:
		return nil, "", utils.NewValidationError("unknown user mode: %s", input.UserMode)
	}
}
