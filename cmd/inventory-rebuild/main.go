package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/models"
)

// inventory-rebuild audits the cached item quantities against the replayed
// stock ledger and, with --apply, overwrites drifted quantities with the
// ledger truth. Default is a dry run that only prints the drift report.
func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	itemID := flag.Int("item-id", 0, "Optional: limit to one inventory item")
	apply := flag.Bool("apply", false, "Apply fixes (default: dry-run report only)")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing items and continue rebuilding others")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	var drifts []models.LedgerDrift
	err := db.Transaction(func(tx *gorm.DB) error {
		all, err := models.FindLedgerDrift(tx, *businessID)
		if err != nil {
			return err
		}
		for _, d := range all {
			if *itemID > 0 && d.ItemId != *itemID {
				continue
			}
			drifts = append(drifts, d)
		}
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "drift scan failed:", err)
		os.Exit(1)
	}

	if len(drifts) == 0 {
		fmt.Println("no drift found")
		return
	}

	for _, d := range drifts {
		fmt.Printf("item=%d recorded=%s replayed=%s\n", d.ItemId, d.Recorded.String(), d.Replayed.String())
	}

	if !*apply {
		fmt.Printf("%d drifted item(s); re-run with --apply to rebuild\n", len(drifts))
		return
	}

	fixed := 0
	for _, d := range drifts {
		err := db.Transaction(func(tx *gorm.DB) error {
			qty, err := models.RebuildItemQuantity(tx, *businessID, d.ItemId)
			if err != nil {
				return err
			}
			fmt.Printf("item=%d rebuilt quantity=%s\n", d.ItemId, qty.String())
			return nil
		})
		if err != nil {
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "item=%d rebuild failed: %v (continuing)\n", d.ItemId, err)
				continue
			}
			fmt.Fprintf(os.Stderr, "item=%d rebuild failed: %v\n", d.ItemId, err)
			os.Exit(1)
		}
		fixed++
	}
	fmt.Printf("rebuilt %d of %d drifted item(s)\n", fixed, len(drifts))
}
