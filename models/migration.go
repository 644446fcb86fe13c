package models

import (
	"log"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &Location{},
		&InventoryItem{}, &StockLedgerEntry{}, &Batch{},
		&Recipe{}, &RecipeIngredient{},
		&PurchaseOrder{}, &PurchaseOrderDetail{},
		&TransferOrder{},
		&OrderDeduction{},
		&InventoryEventRecord{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
