package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/models"
	"bitbucket.org/mmdatafocus/hotel_backend/workflow"
)

// expiry-sweep runs the daily batch status sweep (ACTIVE -> EXPIRING ->
// EXPIRED) for one business or for every business, intended for a cron job.
func main() {
	businessID := flag.String("business-id", "", "Optional: sweep one business (default: all)")
	dateStr := flag.String("date", "", "Optional: sweep as of date (YYYY-MM-DD, default today)")
	flag.Parse()

	now := time.Now().UTC()
	if strings.TrimSpace(*dateStr) != "" {
		parsed, err := time.Parse("2006-01-02", *dateStr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid --date:", err)
			os.Exit(1)
		}
		// Noon UTC lands on the same civil day in every business timezone.
		now = parsed.Add(12 * time.Hour)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	var businessIds []string
	if strings.TrimSpace(*businessID) != "" {
		businessIds = []string{*businessID}
	} else {
		var businesses []models.Business
		if err := db.Select("id").Find(&businesses).Error; err != nil {
			fmt.Fprintln(os.Stderr, "list businesses failed:", err)
			os.Exit(1)
		}
		for _, b := range businesses {
			businessIds = append(businessIds, b.ID)
		}
	}

	total := 0
	for _, id := range businessIds {
		err := db.Transaction(func(tx *gorm.DB) error {
			changed, err := workflow.ProcessExpirySweep(tx, logger, id, now)
			total += changed
			return err
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "business=%s sweep failed: %v\n", id, err)
			os.Exit(1)
		}
	}
	fmt.Printf("swept %d business(es), %d batch status change(s)\n", len(businessIds), total)
}
