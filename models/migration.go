package models

import (
	"bitbucket.org/mmdatafocus/flowtrack_backend/config"
)

func AutoMigrate() error {
	db := config.GetDB()
	err := db.AutoMigrate(
		&User{},
		&MonthlyTarget{},
		&DailyRecord{},
		&Operator{},
		&PaymentChannel{},
		&History{},
	)
	if err != nil {
		return err
	}
	return SeedPaymentChannels(db)
}
