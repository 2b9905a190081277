package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/flowtrack_backend/config"
	"bitbucket.org/mmdatafocus/flowtrack_backend/utils"
	"gorm.io/gorm"
)

// Well-known channel ids used by legacy exports. They are seeded under a
// global operator by migration and never deleted.
const (
	ChannelIdWechat = 1
	ChannelIdAlipay = 2
	ChannelIdOther  = 3
)

var wellKnownChannels = map[int]string{
	ChannelIdWechat: "微信支付",
	ChannelIdAlipay: "支付宝",
	ChannelIdOther:  "其他渠道",
}

// seedOperatorName owns the seeded well-known channels.
const seedOperatorName = "系统"

// PaymentChannel is a named payment method owned by one operator.
type PaymentChannel struct {
	ID         int       `gorm:"primary_key" json:"id"`
	OperatorID int       `gorm:"index;not null" json:"operator_id"`
	Name       string    `gorm:"size:100;not null" json:"name" binding:"required"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ChannelName resolves a channel id to a display name. Well-known ids
// resolve without touching the DB; unknown or deleted ids fall back to
// "未知渠道" instead of failing the listing.
func ChannelName(ctx context.Context, id int) string {
	if name, ok := wellKnownChannels[id]; ok {
		return name
	}
	db := config.GetDB()
	var channel PaymentChannel
	if err := db.WithContext(ctx).First(&channel, id).Error; err != nil {
		return "未知渠道"
	}
	return channel.Name
}

func GetPaymentChannels(ctx context.Context) ([]*PaymentChannel, error) {
	db := config.GetDB()
	var channels []*PaymentChannel
	err := db.WithContext(ctx).Order("id ASC").Find(&channels).Error
	if err != nil {
		return nil, utils.WrapStoreError(err)
	}
	return channels, nil
}

func CreateChannel(ctx context.Context, operatorId int, name string) (*PaymentChannel, error) {
	if name == "" {
		return nil, utils.NewValidationError("channel name is required")
	}
	if _, err := GetOperator(ctx, operatorId); err != nil {
		return nil, utils.NewValidationError("operator %d not found", operatorId)
	}
	db := config.GetDB()
	channel := PaymentChannel{OperatorID: operatorId, Name: name}
	if err := db.WithContext(ctx).Create(&channel).Error; err != nil {
		return nil, utils.WrapStoreError(err)
	}
	return &channel, nil
}

// SeedPaymentChannels inserts the well-known channels under a global seed
// operator if missing. Runs at migration time so channel ids 1..3 are
// stable across deployments.
func SeedPaymentChannels(db *gorm.DB) error {
	seedOperator, err := findOrCreateOperator(db, nil, seedOperatorName)
	if err != nil {
		return err
	}
	for id, name := range wellKnownChannels {
		var existing PaymentChannel
		err := db.First(&existing, id).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		channel := PaymentChannel{ID: id, OperatorID: seedOperator.ID, Name: name}
		if err := db.Create(&channel).Error; err != nil {
			return err
		}
	}
	return nil
}
