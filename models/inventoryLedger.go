package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

// StockLedgerEntry is one immutable line in an item's stock history.
// Rows are append-only: no update or delete path exists anywhere in the
// codebase, and corrections go in as new adjustment entries.
type StockLedgerEntry struct {
	ID            string             `gorm:"size:36;primary_key" json:"id"`
	BusinessId    string             `gorm:"index;not null" json:"business_id"`
	ItemId        int                `gorm:"not null;index:idx_ledger_item_seq,priority:1" json:"item_id"`
	Sequence      int64              `gorm:"not null;index:idx_ledger_item_seq,priority:2" json:"sequence"`
	EntryType     LedgerEntryType    `gorm:"size:2;not null" json:"entry_type"`
	Qty           decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"qty"`
	ClosingQty    decimal.Decimal    `gorm:"type:decimal(20,4);not null" json:"closing_qty"`
	UnitCost      decimal.Decimal    `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	BatchNumber   string             `gorm:"size:50" json:"batch_number"`
	ReferenceType StockReferenceType `gorm:"size:5;index" json:"reference_type"`
	ReferenceId   int                `gorm:"index" json:"reference_id"`
	Reference     string             `gorm:"size:100" json:"reference"`
	StockDate     time.Time          `gorm:"not null;index" json:"stock_date"`
	ActorId       int                `json:"actor_id"`
	ActorName     string             `gorm:"size:100" json:"actor_name"`
	CorrelationId string             `gorm:"size:36" json:"correlation_id"`
	CreatedAt     time.Time          `gorm:"autoCreateTime" json:"created_at"`
}

func (e StockLedgerEntry) GetBusinessId() string {
	return e.BusinessId
}

func (e *StockLedgerEntry) BeforeCreate(tx *gorm.DB) error {
	_ = tx
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// appendStockLedgerEntry assigns the next per-item sequence number and inserts
// the entry. Callers hold the item row lock, so the MAX(sequence) read cannot
// race with another writer on the same item.
func appendStockLedgerEntry(tx *gorm.DB, entry *StockLedgerEntry) error {
	var maxSeq int64
	err := tx.Model(&StockLedgerEntry{}).
		Where("item_id = ?", entry.ItemId).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return err
	}
	entry.Sequence = maxSeq + 1
	return tx.Create(entry).Error
}

// ReplayItemQuantity sums an item's ledger deltas from the beginning.
// Used by the rebuild tool to detect drift between the aggregate row and its
// history.
func ReplayItemQuantity(tx *gorm.DB, businessId string, itemId int) (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := tx.Model(&StockLedgerEntry{}).
		Where("business_id = ? AND item_id = ?", businessId, itemId).
		Select("COALESCE(SUM(qty), 0) AS total").
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, err
	}
	return result.Total, nil
}

// QuantityAsOf replays the ledger up to and including cutoff.
func QuantityAsOf(tx *gorm.DB, businessId string, itemId int, cutoff time.Time) (decimal.Decimal, error) {
	var result struct {
		Total decimal.Decimal
	}
	err := tx.Model(&StockLedgerEntry{}).
		Where("business_id = ? AND item_id = ? AND stock_date <= ?", businessId, itemId, cutoff).
		Select("COALESCE(SUM(qty), 0) AS total").
		Scan(&result).Error
	if err != nil {
		return decimal.Zero, err
	}
	return result.Total, nil
}

// LedgerDrift is one item whose aggregate quantity disagrees with its ledger.
type LedgerDrift struct {
	ItemId     int             `json:"item_id"`
	ItemName   string          `json:"item_name"`
	Recorded   decimal.Decimal `json:"recorded"`
	Replayed   decimal.Decimal `json:"replayed"`
	Difference decimal.Decimal `json:"difference"`
}

// FindLedgerDrift replays every item's ledger for one business and returns
// those whose stored quantity does not match the replayed sum.
func FindLedgerDrift(tx *gorm.DB, businessId string) ([]LedgerDrift, error) {
	var items []InventoryItem
	if err := tx.Where("business_id = ?", businessId).Find(&items).Error; err != nil {
		return nil, err
	}

	var drifts []LedgerDrift
	for _, item := range items {
		replayed, err := ReplayItemQuantity(tx, businessId, item.ID)
		if err != nil {
			return nil, err
		}
		if !replayed.Equal(item.Quantity) {
			drifts = append(drifts, LedgerDrift{
				ItemId:     item.ID,
				ItemName:   item.Name,
				Recorded:   item.Quantity,
				Replayed:   replayed,
				Difference: item.Quantity.Sub(replayed),
			})
		}
	}
	return drifts, nil
}

// RebuildItemQuantity overwrites an item's aggregate quantity with the
// replayed ledger sum. The rebuild tool calls this after reporting drift.
func RebuildItemQuantity(tx *gorm.DB, businessId string, itemId int) (decimal.Decimal, error) {
	item, err := LockInventoryItem(tx, businessId, itemId)
	if err != nil {
		return decimal.Zero, err
	}
	replayed, err := ReplayItemQuantity(tx, businessId, itemId)
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.Model(item).Updates(map[string]interface{}{
		"Quantity": replayed,
	}).Error; err != nil {
		return decimal.Zero, err
	}
	return replayed, nil
}

// ListLedgerEntries returns an item's history, newest first.
func ListLedgerEntries(ctx context.Context, itemId int, entryType *LedgerEntryType, limit int) ([]*StockLedgerEntry, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	db := config.GetDB()
	var results []*StockLedgerEntry

	dbCtx := db.WithContext(ctx).
		Where("business_id = ? AND item_id = ?", businessId, itemId)
	if entryType != nil && *entryType != "" {
		dbCtx = dbCtx.Where("entry_type = ?", *entryType)
	}
	// db query
	err := dbCtx.Order("sequence DESC").Limit(limit).Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
