// backfill-daily-summary recomputes the per-day summary rows from detail
// records. Run it after manual database edits or to repair drift between
// detail amounts and their day aggregates.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/backfill-daily-summary
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/flowtrack_backend/config"
	"bitbucket.org/mmdatafocus/flowtrack_backend/models"
	"gorm.io/gorm"
)

func main() {
	customerID := flag.Int("customer-id", 0, "Optional: backfill only one customer. If 0, backfills all customers.")
	from := flag.String("from", "", "Optional: start date (YYYY-MM-DD). Defaults to the earliest record.")
	to := flag.String("to", "", "Optional: end date (YYYY-MM-DD). Defaults to the latest record.")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	type customerDay struct {
		CustomerID int
		Date       string
	}

	query := db.WithContext(ctx).Model(&models.DailyRecord{}).
		Select("DISTINCT customer_id, date").
		Where("is_summary = ?", false)
	if *customerID > 0 {
		query = query.Where("customer_id = ?", *customerID)
	}
	if *from != "" {
		query = query.Where("date >= ?", *from)
	}
	if *to != "" {
		query = query.Where("date <= ?", *to)
	}

	var days []customerDay
	if err := query.Order("customer_id, date").Find(&days).Error; err != nil {
		fmt.Fprintf(os.Stderr, "failed to list customer days: %v\n", err)
		os.Exit(1)
	}
	if len(days) == 0 {
		fmt.Println("nothing to backfill")
		return
	}

	synced := 0
	for _, day := range days {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return models.SyncDailySummary(tx, day.CustomerID, day.Date)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync customer %d date %s: %v\n", day.CustomerID, day.Date, err)
			os.Exit(1)
		}
		synced++
	}
	fmt.Printf("Synced %d customer days\n", synced)
}
