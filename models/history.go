package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/flowtrack_backend/config"
	"bitbucket.org/mmdatafocus/flowtrack_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// History is the audit sink: one row per admin/customer action, successful
// or failed. Callers never branch on it; it exists for operators reading
// back what happened.
type History struct {
	ID            int       `gorm:"primary_key" json:"id"`
	ActionType    string    `gorm:"size:32;not null;index" json:"action_type"`
	Description   string    `gorm:"type:text;not null" json:"description"`
	ReferenceID   int       `gorm:"index" json:"reference_id"`
	ReferenceType string    `gorm:"size:64" json:"reference_type"`
	UserId        int       `gorm:"index;not null" json:"user_id"`
	UserName      string    `gorm:"size:100" json:"user_name"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func createHistory(tx *gorm.DB, actionType string, referenceId int, referenceType string, description string) error {
	ctx := tx.Statement.Context

	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, ok := utils.GetUsernameFromContext(ctx)
	if !ok {
		userName = "system"
	}

	history := History{
		ActionType:    actionType,
		Description:   description,
		ReferenceID:   referenceId,
		ReferenceType: referenceType,
		UserId:        userId,
		UserName:      userName,
	}
	return tx.Create(&history).Error
}

// SaveHistory records an audit entry inside the caller's transaction.
func SaveHistory(tx *gorm.DB, actionType string, referenceId int, referenceType string, description string) error {
	return createHistory(tx, actionType, referenceId, referenceType, description)
}

// LogAction records an audit entry outside any transaction (failure paths)
// and mirrors it to the structured log. Best-effort: a failing audit write
// must not mask the original error, so it only logs.
func LogAction(ctx context.Context, actionType string, referenceId int, referenceType string, description string) {
	logger := config.GetLogger()
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUsernameFromContext(ctx)

	logger.WithFields(logrus.Fields{
		"action":         actionType,
		"user_id":        userId,
		"user_name":      userName,
		"reference_id":   referenceId,
		"reference_type": referenceType,
	}).Info(description)

	db := config.GetDB()
	if db == nil {
		return
	}
	history := History{
		ActionType:    actionType,
		Description:   description,
		ReferenceID:   referenceId,
		ReferenceType: referenceType,
		UserId:        userId,
		UserName:      userName,
	}
	if err := db.WithContext(ctx).Create(&history).Error; err != nil {
		config.LogError(logger, "history.go", "LogAction", actionType, description, err)
	}
}

func GetHistories(ctx context.Context, referenceId *int, referenceType *string, userId *int) ([]*History, error) {
	db := config.GetDB()
	var results []*History

	dbCtx := db.WithContext(ctx)
	if referenceId != nil && *referenceId > 0 {
		dbCtx = dbCtx.Where("reference_id = ?", referenceId)
	}
	if referenceType != nil && len(*referenceType) > 0 {
		dbCtx = dbCtx.Where("reference_type = ?", referenceType)
	}
	if userId != nil && *userId > 0 {
		dbCtx = dbCtx.Where("user_id = ?", userId)
	}
	err := dbCtx.Order("created_at DESC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
