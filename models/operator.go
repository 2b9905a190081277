package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/flowtrack_backend/config"
	"bitbucket.org/mmdatafocus/flowtrack_backend/utils"
	"gorm.io/gorm"
)

// Operator names who handled a transaction. A nil CustomerID makes the
// operator global; otherwise it belongs to one customer.
type Operator struct {
	ID         int       `gorm:"primary_key" json:"id"`
	CustomerID *int      `gorm:"index" json:"customer_id"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// GetOperators lists global operators plus those scoped to the customer.
func GetOperators(ctx context.Context, customerId int) ([]*Operator, error) {
	db := config.GetDB()
	var operators []*Operator
	err := db.WithContext(ctx).
		Where("customer_id = ? OR customer_id IS NULL", customerId).
		Order("name ASC").
		Find(&operators).Error
	if err != nil {
		return nil, utils.WrapStoreError(err)
	}
	return operators, nil
}

func GetOperator(ctx context.Context, id int) (*Operator, error) {
	db := config.GetDB()
	var operator Operator
	if err := db.WithContext(ctx).First(&operator, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, utils.WrapStoreError(err)
	}
	return &operator, nil
}

func operatorScope(tx *gorm.DB, customerId *int) *gorm.DB {
	if customerId == nil {
		return tx.Where("customer_id IS NULL")
	}
	return tx.Where("customer_id = ?", *customerId)
}

// findOrCreateOperator reuses an operator by name within the given scope,
// creating it when missing. Runs inside the caller's transaction.
func findOrCreateOperator(tx *gorm.DB, customerId *int, name string) (*Operator, error) {
	if name == "" {
		return nil, utils.NewValidationError("operator name is required")
	}
	var existing Operator
	err := operatorScope(tx, customerId).Where("name = ?", name).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.WrapStoreError(err)
	}
	operator := Operator{CustomerID: customerId, Name: name}
	if err := tx.Create(&operator).Error; err != nil {
		return nil, utils.WrapStoreError(err)
	}
	return &operator, nil
}

// CreateOperator adds an operator. A nil customerId creates a global one.
// Creating a name that already exists in the same scope returns the
// existing row.
func CreateOperator(ctx context.Context, customerId *int, name string) (*Operator, error) {
	db := config.GetDB()
	var operator *Operator
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		operator, err = findOrCreateOperator(tx, customerId, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return operator, nil
}

// DeleteOperator removes an operator and nulls references to it. Records
// that pointed at it render the reference as unknown afterwards.
func DeleteOperator(ctx context.Context, id int) error {
	db := config.GetDB()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&DailyRecord{}).
			Where("operator_id = ?", id).
			Update("operator_id", nil).Error
		if err != nil {
			return utils.WrapStoreError(err)
		}
		if err := tx.Where("operator_id = ?", id).Delete(&PaymentChannel{}).Error; err != nil {
			return utils.WrapStoreError(err)
		}
		result := tx.Delete(&Operator{}, id)
		if result.Error != nil {
			return utils.WrapStoreError(result.Error)
		}
		if result.RowsAffected == 0 {
			return utils.ErrorRecordNotFound
		}
		return nil
	})
}
