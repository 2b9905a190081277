package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/flowtrack_backend/config"
	"bitbucket.org/mmdatafocus/flowtrack_backend/utils"
	"gorm.io/gorm"
)

// DefaultCustomerPassword is assigned to customers created implicitly by an
// Excel import and to password resets without an explicit new password.
const DefaultCustomerPassword = "123456"

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	Role      UserRole  `gorm:"type:enum('admin','customer');default:'customer'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type LoginInfo struct {
	Token    string   `json:"token"`
	UserId   int      `json:"user_id"`
	Username string   `json:"username"`
	Role     UserRole `json:"role"`
}

/*
caches:
	User:$username
*/

func (user User) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("User:" + user.Username)
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {
	db := config.GetDB()

	var user User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewValidationError("invalid username or password")
		}
		return nil, utils.WrapStoreError(err)
	}

	if err := utils.ComparePassword(user.Password, password); err != nil {
		return nil, utils.NewValidationError("invalid username or password")
	}

	token, err := utils.JwtGenerate(user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}

	// Cache the user so per-request resolution can skip the DB.
	if err := config.SetRedisObject("User:"+user.Username, &user, 12*time.Hour); err != nil {
		config.LogError(config.GetLogger(), "user.go", "Login", "SetRedisObject", user.Username, err)
	}

	return &LoginInfo{
		Token:    token,
		UserId:   user.ID,
		Username: user.Username,
		Role:     user.Role,
	}, nil
}

// GetSessionUser resolves the acting user from the request context,
// preferring the redis cache.
func GetSessionUser(ctx context.Context) (*User, error) {
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return nil, errors.New("unauthorized")
	}

	var user User
	exists, err := config.GetRedisObject("User:"+username, &user)
	if err != nil {
		return nil, err
	}
	if !exists {
		db := config.GetDB()
		if db == nil {
			return nil, errors.New("db is nil")
		}
		if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
			return nil, errors.New("unauthorized")
		}
	}
	return &user, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {
	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &user, nil
}

func GetUserByUsername(ctx context.Context, username string) (*User, error) {
	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, utils.WrapStoreError(err)
	}
	return &user, nil
}

func GetCustomers(ctx context.Context) ([]*User, error) {
	db := config.GetDB()
	var customers []*User
	err := db.WithContext(ctx).
		Where("role = ?", UserRoleCustomer).
		Order("created_at DESC").
		Find(&customers).Error
	if err != nil {
		return nil, utils.WrapStoreError(err)
	}
	return customers, nil
}

func CreateCustomer(ctx context.Context, username string, password string) (*User, error) {
	if username == "" {
		return nil, utils.NewValidationError("username is required")
	}
	if password == "" {
		password = DefaultCustomerPassword
	}

	db := config.GetDB()

	var existing User
	err := db.WithContext(ctx).Where("username = ?", username).First(&existing).Error
	if err == nil {
		return nil, utils.NewValidationError("username %s already exists", username)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.WrapStoreError(err)
	}

	var user *User
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		user, txErr = CreateCustomerTx(tx, username, password)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// CreateCustomerTx inserts a customer inside the caller's transaction, so
// implicit creation during an import rolls back with the import.
func CreateCustomerTx(tx *gorm.DB, username string, password string) (*User, error) {
	if password == "" {
		password = DefaultCustomerPassword
	}
	hashed, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := User{
		Username: username,
		Password: string(hashed),
		Role:     UserRoleCustomer,
	}
	if err := tx.Create(&user).Error; err != nil {
		return nil, utils.WrapStoreError(err)
	}
	err = SaveHistory(tx, ActionAddCustomer, user.ID, "users",
		fmt.Sprintf("created customer %s", username))
	if err != nil {
		return nil, utils.WrapStoreError(err)
	}
	return &user, nil
}

// DeleteUser removes a customer together with all of their flow records and
// targets. Operators/channels owned by the customer are kept; records that
// referenced them already render orphaned references as "unknown".
func DeleteUser(ctx context.Context, id int) error {
	actorId, _ := utils.GetUserIdFromContext(ctx)
	if actorId == id {
		return utils.NewValidationError("cannot delete your own account")
	}

	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		return utils.ErrorRecordNotFound
	}

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		recordsResult := tx.Where("customer_id = ?", id).Delete(&DailyRecord{})
		if recordsResult.Error != nil {
			return recordsResult.Error
		}
		targetsResult := tx.Where("customer_id = ?", id).Delete(&MonthlyTarget{})
		if targetsResult.Error != nil {
			return targetsResult.Error
		}
		recordsDeleted := recordsResult.RowsAffected
		targetsDeleted := targetsResult.RowsAffected
		if err := tx.Delete(&User{}, id).Error; err != nil {
			return err
		}
		return SaveHistory(tx, ActionDeleteUser, id, "users",
			fmt.Sprintf("deleted user %s (records=%d, targets=%d)", user.Username, recordsDeleted, targetsDeleted))
	})
	if err != nil {
		return utils.WrapStoreError(err)
	}
	return user.RemoveInstanceRedis()
}

func ResetPassword(ctx context.Context, id int, newPassword string) error {
	if newPassword == "" {
		newPassword = DefaultCustomerPassword
	}

	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		return utils.ErrorRecordNotFound
	}

	hashed, err := utils.HashPassword(newPassword)
	if err != nil {
		return err
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&User{}).Where("id = ?", id).Update("password", string(hashed)).Error; err != nil {
			return err
		}
		return SaveHistory(tx, ActionResetPassword, id, "users",
			fmt.Sprintf("reset password for %s", user.Username))
	})
	if err != nil {
		return utils.WrapStoreError(err)
	}
	return user.RemoveInstanceRedis()
}
