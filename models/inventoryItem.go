package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

// InventoryItem is the aggregate stock record for one SKU at one location.
// Quantity and average cost are only ever mutated through AdjustStock so the
// row stays consistent with its ledger.
type InventoryItem struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	BusinessId         string          `gorm:"index;not null;index:uniq_item_sku,unique,priority:1" json:"business_id"`
	Name               string          `gorm:"size:100;not null" json:"name" binding:"required"`
	Sku                string          `gorm:"size:50;not null;index:uniq_item_sku,unique,priority:2" json:"sku" binding:"required"`
	Unit               MeasurementUnit `gorm:"size:10;not null;default:'pc'" json:"unit"`
	Kind               ItemKind        `gorm:"type:enum('C','U','E');default:'C'" json:"kind"`
	LocationId         int             `gorm:"index;not null" json:"location_id"`
	Quantity           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	AverageUnitCost    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"average_unit_cost"`
	MinimumStock       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"minimum_stock"`
	ParLevel           decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"par_level"`
	IsBatchTracked     *bool           `gorm:"not null;default:false" json:"is_batch_tracked"`
	EarliestExpiryDate *time.Time      `json:"earliest_expiry_date"`
	HasExpiringItems   *bool           `gorm:"not null;default:false" json:"has_expiring_items"`
	IsActive           *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (item InventoryItem) GetBusinessId() string {
	return item.BusinessId
}

// NeedsRestock is true when quantity is at or below the restock line.
// Utility items (linen, cleaning supplies) restock against par level.
func (item *InventoryItem) NeedsRestock() bool {
	threshold := item.MinimumStock
	if item.Kind == ItemKindUtility {
		threshold = item.ParLevel
	}
	return item.Quantity.Cmp(threshold) <= 0
}

// ComputeMovingAverageCost returns the weighted average cost after receiving
// delta units at unitCost into oldQty units held at oldCost.
// A zero starting quantity (or an item that never had a cost) adopts the
// incoming cost exactly.
func ComputeMovingAverageCost(oldQty, oldCost, delta, unitCost decimal.Decimal) decimal.Decimal {
	if oldQty.IsZero() || oldCost.IsZero() {
		return unitCost
	}
	totalQty := oldQty.Add(delta)
	if totalQty.IsZero() {
		return oldCost
	}
	totalValue := oldQty.Mul(oldCost).Add(delta.Mul(unitCost))
	return totalValue.Div(totalQty)
}

// AdjustStockInput describes one ledger-backed quantity change.
type AdjustStockInput struct {
	Delta         decimal.Decimal
	EntryType     LedgerEntryType
	UnitCost      decimal.Decimal
	BatchNumber   string
	ReferenceType StockReferenceType
	ReferenceId   int
	Reference     string
	StockDate     time.Time
	ActorId       int
	ActorName     string
	CorrelationId string
}

// AdjustStock applies one quantity change to a locked item row and appends the
// matching ledger entry in the same transaction. The caller must hold the row
// lock (LockInventoryItem / an outer FOR UPDATE query); both writes commit or
// neither does.
func AdjustStock(tx *gorm.DB, item *InventoryItem, input AdjustStockInput) (*StockLedgerEntry, error) {
	if input.Delta.IsZero() {
		return nil, &utils.InvalidQuantityError{Qty: input.Delta, Reason: "delta must be non-zero"}
	}

	newQty := item.Quantity.Add(input.Delta)
	newCost := item.AverageUnitCost
	unitCost := input.UnitCost

	switch {
	case input.EntryType == LedgerEntryTypeReceipt || input.EntryType == LedgerEntryTypeTransferIn:
		if input.Delta.IsNegative() {
			return nil, &utils.InvalidQuantityError{Qty: input.Delta, Reason: "receipts must be positive"}
		}
		newCost = ComputeMovingAverageCost(item.Quantity, item.AverageUnitCost, input.Delta, input.UnitCost)
	case input.Delta.IsNegative():
		if newQty.IsNegative() {
			return nil, &utils.InsufficientStockError{
				ItemId:    item.ID,
				ItemName:  item.Name,
				Required:  input.Delta.Neg(),
				Available: item.Quantity,
			}
		}
		if unitCost.IsZero() {
			unitCost = item.AverageUnitCost
		}
	}

	stockDate := input.StockDate
	if stockDate.IsZero() {
		stockDate = time.Now().UTC()
	}

	if err := tx.Model(item).Updates(map[string]interface{}{
		"Quantity":        newQty,
		"AverageUnitCost": newCost,
	}).Error; err != nil {
		return nil, err
	}
	item.Quantity = newQty
	item.AverageUnitCost = newCost

	entry := &StockLedgerEntry{
		BusinessId:    item.BusinessId,
		ItemId:        item.ID,
		EntryType:     input.EntryType,
		Qty:           input.Delta,
		ClosingQty:    newQty,
		UnitCost:      unitCost,
		BatchNumber:   input.BatchNumber,
		ReferenceType: input.ReferenceType,
		ReferenceId:   input.ReferenceId,
		Reference:     input.Reference,
		StockDate:     stockDate,
		ActorId:       input.ActorId,
		ActorName:     input.ActorName,
		CorrelationId: input.CorrelationId,
	}
	if err := appendStockLedgerEntry(tx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// LockInventoryItem fetches an item row FOR UPDATE inside tx.
func LockInventoryItem(tx *gorm.DB, businessId string, itemId int) (*InventoryItem, error) {
	var item InventoryItem
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id = ?", businessId, itemId).
		First(&item).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &item, nil
}

// LockInventoryItems locks a set of item rows in ascending id order.
// Deterministic lock order prevents deadlocks between concurrent mutations.
func LockInventoryItems(tx *gorm.DB, businessId string, itemIds []int) (map[int]*InventoryItem, error) {
	var rows []*InventoryItem
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND id IN ?", businessId, itemIds).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	items := make(map[int]*InventoryItem, len(rows))
	for _, row := range rows {
		items[row.ID] = row
	}
	for _, id := range itemIds {
		if _, ok := items[id]; !ok {
			return nil, utils.ErrorRecordNotFound
		}
	}
	return items, nil
}

type NewInventoryItem struct {
	Name           string          `json:"name" binding:"required"`
	Sku            string          `json:"sku" binding:"required"`
	Unit           MeasurementUnit `json:"unit"`
	Kind           ItemKind        `json:"kind"`
	LocationId     int             `json:"location_id" binding:"required"`
	MinimumStock   decimal.Decimal `json:"minimum_stock"`
	ParLevel       decimal.Decimal `json:"par_level"`
	IsBatchTracked *bool           `json:"is_batch_tracked"`
	OpeningStock   *NewOpeningStock `json:"opening_stock"`
}

type NewOpeningStock struct {
	Qty       decimal.Decimal `json:"qty"`
	UnitValue decimal.Decimal `json:"unit_value"`
}

// validate input for both create & update. (id = 0 for create)

func (input *NewInventoryItem) validate(ctx context.Context, businessId string, id int) error {
	// sku
	if err := utils.ValidateUnique[InventoryItem](ctx, businessId, "sku", input.Sku, id); err != nil {
		return err
	}
	// location
	if err := utils.ValidateResourceId[Location](ctx, businessId, input.LocationId); err != nil {
		return errors.New("location not found")
	}
	if input.OpeningStock != nil && !input.OpeningStock.Qty.IsPositive() {
		return &utils.InvalidQuantityError{Qty: input.OpeningStock.Qty, Reason: "opening stock must be positive"}
	}
	return nil
}

func CreateInventoryItem(ctx context.Context, input *NewInventoryItem) (*InventoryItem, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	unit := input.Unit
	if unit == "" {
		unit = UnitPiece
	}
	kind := input.Kind
	if kind == "" {
		kind = ItemKindConsumable
	}
	isBatchTracked := input.IsBatchTracked
	if isBatchTracked == nil {
		isBatchTracked = utils.NewFalse()
	}

	item := InventoryItem{
		BusinessId:       businessId,
		Name:             input.Name,
		Sku:              input.Sku,
		Unit:             unit,
		Kind:             kind,
		LocationId:       input.LocationId,
		MinimumStock:     input.MinimumStock,
		ParLevel:         input.ParLevel,
		IsBatchTracked:   isBatchTracked,
		HasExpiringItems: utils.NewFalse(),
		IsActive:         utils.NewTrue(),
	}

	actorId, _ := utils.GetUserIdFromContext(ctx)
	actorName, _ := utils.GetUserNameFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&item).Error; err != nil {
			return err
		}
		if input.OpeningStock != nil {
			_, err := AdjustStock(tx, &item, AdjustStockInput{
				Delta:         input.OpeningStock.Qty,
				EntryType:     LedgerEntryTypeReceipt,
				UnitCost:      input.OpeningStock.UnitValue,
				ReferenceType: StockReferenceTypeOpeningStock,
				ReferenceId:   item.ID,
				Reference:     "Opening stock",
				ActorId:       actorId,
				ActorName:     actorName,
				CorrelationId: correlationId,
			})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func UpdateInventoryItem(ctx context.Context, id int, input *NewInventoryItem) (*InventoryItem, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	item, err := utils.FetchModel[InventoryItem](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	// Quantity and cost never change here; only AdjustStock touches them.
	db := config.GetDB()
	err = db.WithContext(ctx).Model(&item).Updates(map[string]interface{}{
		"Name":         input.Name,
		"Sku":          input.Sku,
		"Unit":         input.Unit,
		"Kind":         input.Kind,
		"LocationId":   input.LocationId,
		"MinimumStock": input.MinimumStock,
		"ParLevel":     input.ParLevel,
	}).Error
	if err != nil {
		return nil, err
	}

	return item, nil
}

// DeleteInventoryItem refuses to delete an item with ledger history; such
// items are deactivated instead so the audit trail stays intact.
func DeleteInventoryItem(ctx context.Context, id int) (*InventoryItem, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	result, err := utils.FetchModel[InventoryItem](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := db.WithContext(ctx).Model(&StockLedgerEntry{}).
		Where("item_id = ?", id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("item has ledger history; deactivate instead")
	}

	// db action
	err = db.WithContext(ctx).Delete(&result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

func GetInventoryItem(ctx context.Context, id int) (*InventoryItem, error) {
	return GetResource[InventoryItem](ctx, id)
}

func ListInventoryItems(ctx context.Context, name *string, locationId *int, needsRestock *bool) ([]*InventoryItem, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*InventoryItem

	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if locationId != nil && *locationId > 0 {
		dbCtx = dbCtx.Where("location_id = ?", *locationId)
	}
	if needsRestock != nil && *needsRestock {
		dbCtx = dbCtx.Where("(kind = 'U' AND quantity <= par_level) OR (kind != 'U' AND quantity <= minimum_stock)")
	}
	// db query
	err := dbCtx.Order("name").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func ToggleActiveInventoryItem(ctx context.Context, id int, isActive bool) (*InventoryItem, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return ToggleActiveModel[InventoryItem](ctx, businessId, id, isActive)
}

// AdjustInventory is the manual adjustment entry point (stock count
// corrections, breakage). It locks the item row and applies one
// ledger-backed change atomically.
func AdjustInventory(ctx context.Context, itemId int, input AdjustStockInput) (*StockLedgerEntry, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if input.ActorId == 0 {
		input.ActorId, _ = utils.GetUserIdFromContext(ctx)
	}
	if input.ActorName == "" {
		input.ActorName, _ = utils.GetUserNameFromContext(ctx)
	}
	if input.CorrelationId == "" {
		input.CorrelationId, _ = utils.GetCorrelationIdFromContext(ctx)
	}

	var entry *StockLedgerEntry
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := LockInventoryItem(tx, businessId, itemId)
		if err != nil {
			return err
		}
		entry, err = AdjustStock(tx, item, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}
