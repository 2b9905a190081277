package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/flowtrack_backend/config"
	"github.com/bsm/redislock"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

func Today() string {
	return time.Now().Format(DateLayout)
}

// YearMonth derives the YYYY-MM prefix of a zero-padded YYYY-MM-DD date.
func YearMonth(date string) string {
	if len(date) < 7 {
		return date
	}
	return date[:7]
}

// GenerateDateRange expands an inclusive [start, end] date range into the
// list of calendar days it covers. Both ends must be YYYY-MM-DD.
func GenerateDateRange(startDate string, endDate string) ([]string, error) {
	start, err := time.Parse(DateLayout, startDate)
	if err != nil {
		return nil, err
	}
	end, err := time.Parse(DateLayout, endDate)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, errors.New("end date is before start date")
	}

	days := int(end.Sub(start).Hours()/24) + 1
	dates := make([]string, 0, days)
	for i := 0; i < days; i++ {
		dates = append(dates, start.AddDate(0, 0, i).Format(DateLayout))
	}
	return dates, nil
}

var dateLayouts = []string{
	DateLayout,
	"2006-1-2",
	"2006/01/02",
	"2006/1/2",
	"2006.01.02",
	"2006.1.2",
}

// NormalizeDate parses a date in any of the layouts legacy spreadsheets use
// and reformats it as zero-padded YYYY-MM-DD, the canonical storage form.
func NormalizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("empty date string")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.Format(DateLayout), nil
		}
	}
	return "", fmt.Errorf("unrecognized date format: %s", value)
}

// ParseDecimal converts a string to a decimal.Decimal value.
func ParseDecimal(value string) (decimal.Decimal, error) {
	// Remove any whitespace and check for empty strings
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, errors.New("empty decimal string")
	}

	// Convert string to decimal
	dec, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}

	return dec, nil
}

func ProcessValidationErrors(err error) map[string]string {

	validationErrors := err.(validator.ValidationErrors)

	errorResponse := make(map[string]string)

	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	out := make([]T, 0, len(slice))
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	if len(defaults) > 0 {
		return defaults[0]
	}
	var zero T
	return zero
}

// CustomerLock serializes multi-step writes (imports) per customer.
// Best-effort: correctness still rests on the surrounding DB transaction,
// the lock only prevents two imports from racing their delete/insert phases.
func CustomerLock(ctx context.Context, lockKey string, moduleName string, functionName string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Redis not configured: fall through to transaction-only isolation.
		return func() {}, nil
	}
	lock, err := locker.Obtain(ctx, "ImportLock:"+lockKey, 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		config.LogError(logger, moduleName, functionName, "Could not obtain import lock", lockKey, err)
		return nil, errors.New("another import is in progress for this customer")
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining import lock", lockKey, err)
		return nil, err
	}
	release := func() {
		_ = lock.Release(ctx)
	}
	return release, nil
}
