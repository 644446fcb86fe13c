package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

// ExpiringSoonDays is the lead window before expiry in which a batch is
// flagged EXPIRING so the kitchen can use it first.
const ExpiringSoonDays = 30

// Batch is one received lot of a batch-tracked item. Quantity only ever
// moves down after receipt; consumption drains batches in FIFO/FEFO order.
type Batch struct {
	ID             int             `gorm:"primary_key" json:"id"`
	BusinessId     string          `gorm:"index;not null" json:"business_id"`
	ItemId         int             `gorm:"index;not null" json:"item_id"`
	BatchNumber    string          `gorm:"size:50;not null;index:uniq_batch_number,unique" json:"batch_number"`
	Quantity       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	InitialQty     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"initial_qty"`
	UnitCost       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	ExpiryDate     *time.Time      `gorm:"index" json:"expiry_date"`
	ReceivedDate   time.Time       `gorm:"not null;index" json:"received_date"`
	Status         BatchStatus     `gorm:"size:10;not null;default:'ACTIVE'" json:"status"`
	DisposalMethod DisposalMethod  `gorm:"size:10" json:"disposal_method"`
	DisposalNotes  string          `gorm:"type:text" json:"disposal_notes"`
	DisposedAt     *time.Time      `json:"disposed_at"`
	DisposedBy     string          `gorm:"size:100" json:"disposed_by"`
	SupplierRef    string          `gorm:"size:100" json:"supplier_ref"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b Batch) GetBusinessId() string {
	return b.BusinessId
}

// BatchStatusForDate computes the lifecycle status a batch should have on a
// given day. Stored statuses go stale between sweeps, so reads that care
// about expiry call this instead of trusting the column. A batch with
// nothing remaining is DISPOSED regardless of expiry.
func BatchStatusForDate(expiryDate *time.Time, stored BatchStatus, remaining decimal.Decimal, today time.Time) BatchStatus {
	if stored == BatchStatusDisposed {
		return BatchStatusDisposed
	}
	if !remaining.IsPositive() {
		return BatchStatusDisposed
	}
	if expiryDate == nil {
		return BatchStatusActive
	}
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	expiry := time.Date(expiryDate.Year(), expiryDate.Month(), expiryDate.Day(), 0, 0, 0, 0, time.UTC)
	if expiry.Before(day) {
		return BatchStatusExpired
	}
	if !expiry.After(day.AddDate(0, 0, ExpiringSoonDays)) {
		return BatchStatusExpiring
	}
	return BatchStatusActive
}

// IsConsumable reports whether a batch may satisfy a deduction today.
// EXPIRING batches are still good and get drained first under FEFO.
func (b *Batch) IsConsumable(today time.Time) bool {
	status := BatchStatusForDate(b.ExpiryDate, b.Status, b.Quantity, today)
	return status == BatchStatusActive || status == BatchStatusExpiring
}

// BatchConsumption is one batch's share of a planned deduction.
type BatchConsumption struct {
	BatchId     int
	BatchNumber string
	Qty         decimal.Decimal
	UnitCost    decimal.Decimal
}

// PlanFIFOConsumption distributes required across batches in the order given
// (callers sort FEFO: earliest expiry first, then received date). Expired and
// disposed batches never contribute. Pure so the allocation rules are
// testable without a database.
func PlanFIFOConsumption(batches []*Batch, required decimal.Decimal, today time.Time) ([]BatchConsumption, error) {
	if !required.IsPositive() {
		return nil, &utils.InvalidQuantityError{Qty: required, Reason: "required qty must be positive"}
	}

	var plan []BatchConsumption
	remaining := required
	for _, batch := range batches {
		if remaining.IsZero() {
			break
		}
		if !batch.IsConsumable(today) {
			continue
		}
		take := decimal.Min(batch.Quantity, remaining)
		plan = append(plan, BatchConsumption{
			BatchId:     batch.ID,
			BatchNumber: batch.BatchNumber,
			Qty:         take,
			UnitCost:    batch.UnitCost,
		})
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		available := required.Sub(remaining)
		var itemId int
		if len(batches) > 0 {
			itemId = batches[0].ItemId
		}
		return nil, &utils.InsufficientBatchStockError{
			ItemId:    itemId,
			Required:  required,
			Available: available,
		}
	}
	return plan, nil
}

// fetchBatchesForUpdate locks an item's open batches in FEFO order.
// NULL expiry dates sort last so dated stock drains first.
func fetchBatchesForUpdate(tx *gorm.DB, businessId string, itemId int) ([]*Batch, error) {
	var batches []*Batch
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND item_id = ? AND status != ? AND quantity > 0",
			businessId, itemId, BatchStatusDisposed).
		Order("expiry_date IS NULL, expiry_date ASC, received_date ASC, id ASC").
		Find(&batches).Error
	if err != nil {
		return nil, err
	}
	return batches, nil
}

// PlanItemConsumption locks an item's batches and plans a FIFO deduction
// without applying it. Callers that need all-or-nothing across several items
// plan everything first, then apply.
func PlanItemConsumption(tx *gorm.DB, businessId string, itemId int, required decimal.Decimal, today time.Time) ([]BatchConsumption, error) {
	batches, err := fetchBatchesForUpdate(tx, businessId, itemId)
	if err != nil {
		return nil, err
	}
	plan, err := PlanFIFOConsumption(batches, required, today)
	if err != nil {
		if batchErr, ok := err.(*utils.InsufficientBatchStockError); ok {
			batchErr.ItemId = itemId
		}
		return nil, err
	}
	return plan, nil
}

// ApplyConsumptionPlan writes the batch decrements for a planned consumption.
// The batch rows are still locked from planning. Batches drained to zero go
// DISPOSED so listings never report an empty batch as open stock.
func ApplyConsumptionPlan(tx *gorm.DB, plan []BatchConsumption) error {
	for _, consumption := range plan {
		err := tx.Model(&Batch{}).
			Where("id = ?", consumption.BatchId).
			Update("quantity", gorm.Expr("quantity - ?", consumption.Qty)).Error
		if err != nil {
			return err
		}
		err = tx.Model(&Batch{}).
			Where("id = ? AND quantity <= 0", consumption.BatchId).
			Update("status", BatchStatusDisposed).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// GenerateBatchNumber builds "SKU-YYYYMMDD-<n>" where n counts that item's
// receipts on the given day, starting at 1.
func GenerateBatchNumber(tx *gorm.DB, item *InventoryItem, receivedDate time.Time) (string, error) {
	prefix := fmt.Sprintf("%s-%s", item.Sku, receivedDate.Format("20060102"))
	var count int64
	err := tx.Model(&Batch{}).
		Where("item_id = ? AND batch_number LIKE ?", item.ID, prefix+"-%").
		Count(&count).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d", prefix, count+1), nil
}

type NewBatch struct {
	Qty          decimal.Decimal
	UnitCost     decimal.Decimal
	ExpiryDate   *time.Time
	ReceivedDate time.Time
	SupplierRef  string
	BatchNumber  string
}

// CreateBatch inserts a batch for a received lot, generating a batch number
// when the supplier didn't provide one. Concurrent receipts on the same day
// can collide on the generated number; the unique index rejects the loser and
// we retry with a fresh suffix.
func CreateBatch(tx *gorm.DB, item *InventoryItem, input NewBatch) (*Batch, error) {
	if !input.Qty.IsPositive() {
		return nil, &utils.InvalidQuantityError{Qty: input.Qty, Reason: "batch qty must be positive"}
	}

	receivedDate := input.ReceivedDate
	if receivedDate.IsZero() {
		receivedDate = time.Now().UTC()
	}

	status := BatchStatusForDate(input.ExpiryDate, BatchStatusActive, input.Qty, receivedDate)

	for attempt := 0; attempt < 3; attempt++ {
		batchNumber := input.BatchNumber
		if batchNumber == "" {
			var err error
			batchNumber, err = GenerateBatchNumber(tx, item, receivedDate)
			if err != nil {
				return nil, err
			}
		}

		batch := &Batch{
			BusinessId:   item.BusinessId,
			ItemId:       item.ID,
			BatchNumber:  batchNumber,
			Quantity:     input.Qty,
			InitialQty:   input.Qty,
			UnitCost:     input.UnitCost,
			ExpiryDate:   input.ExpiryDate,
			ReceivedDate: receivedDate,
			Status:       status,
			SupplierRef:  input.SupplierRef,
		}
		err := tx.Create(batch).Error
		if err == nil {
			return batch, nil
		}

		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 && input.BatchNumber == "" {
			continue
		}
		return nil, err
	}
	return nil, errors.New("could not allocate a unique batch number")
}

// DisposeBatch marks a batch DISPOSED and writes the matching waste ledger
// entry against the item. All-or-nothing inside one transaction.
func DisposeBatch(ctx context.Context, batchId int, method DisposalMethod, notes string) (*Batch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	actorId, _ := utils.GetUserIdFromContext(ctx)
	actorName, _ := utils.GetUserNameFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	var batch Batch
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("business_id = ? AND id = ?", businessId, batchId).
			First(&batch).Error
		if err != nil {
			return utils.ErrorRecordNotFound
		}
		if batch.Status == BatchStatusDisposed {
			return errors.New("batch is already disposed")
		}

		item, err := LockInventoryItem(tx, businessId, batch.ItemId)
		if err != nil {
			return err
		}

		remaining := batch.Quantity
		now := time.Now().UTC()
		err = tx.Model(&batch).Updates(map[string]interface{}{
			"Quantity":       decimal.Zero,
			"Status":         BatchStatusDisposed,
			"DisposalMethod": method,
			"DisposalNotes":  notes,
			"DisposedAt":     now,
			"DisposedBy":     actorName,
		}).Error
		if err != nil {
			return err
		}

		if remaining.IsPositive() {
			_, err = AdjustStock(tx, item, AdjustStockInput{
				Delta:         remaining.Neg(),
				EntryType:     LedgerEntryTypeWaste,
				UnitCost:      batch.UnitCost,
				BatchNumber:   batch.BatchNumber,
				ReferenceType: StockReferenceTypeDisposal,
				ReferenceId:   batch.ID,
				Reference:     fmt.Sprintf("Disposed %s (%s)", batch.BatchNumber, method),
				ActorId:       actorId,
				ActorName:     actorName,
				CorrelationId: correlationId,
			})
			if err != nil {
				return err
			}
		}

		return RecomputeItemExpiryFlags(tx, item)
	})
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

// RecomputeItemExpiryFlags refreshes the item's earliest-expiry rollup from
// its open batches. Called after any batch mutation.
func RecomputeItemExpiryFlags(tx *gorm.DB, item *InventoryItem) error {
	var batches []*Batch
	err := tx.Where("business_id = ? AND item_id = ? AND status != ? AND quantity > 0",
		item.BusinessId, item.ID, BatchStatusDisposed).
		Find(&batches).Error
	if err != nil {
		return err
	}

	var earliest *time.Time
	hasExpiring := false
	today := time.Now().UTC()
	for _, batch := range batches {
		if batch.ExpiryDate == nil {
			continue
		}
		if earliest == nil || batch.ExpiryDate.Before(*earliest) {
			earliest = batch.ExpiryDate
		}
		status := BatchStatusForDate(batch.ExpiryDate, batch.Status, batch.Quantity, today)
		if status == BatchStatusExpiring || status == BatchStatusExpired {
			hasExpiring = true
		}
	}

	return tx.Model(item).Updates(map[string]interface{}{
		"EarliestExpiryDate": earliest,
		"HasExpiringItems":   hasExpiring,
	}).Error
}

// SweepBatchStatuses persists the computed status of every non-disposed batch
// for one business and refreshes item expiry rollups. Run daily by the
// expiry-sweep tool; returns how many batch rows changed.
func SweepBatchStatuses(tx *gorm.DB, businessId string, today time.Time) (int, error) {
	var batches []*Batch
	err := tx.Where("business_id = ? AND status != ?", businessId, BatchStatusDisposed).
		Find(&batches).Error
	if err != nil {
		return 0, err
	}

	changed := 0
	touchedItems := map[int]bool{}
	for _, batch := range batches {
		status := BatchStatusForDate(batch.ExpiryDate, batch.Status, batch.Quantity, today)
		if status == batch.Status {
			continue
		}
		err := tx.Model(batch).Update("status", status).Error
		if err != nil {
			return changed, err
		}
		changed++
		touchedItems[batch.ItemId] = true
	}

	for itemId := range touchedItems {
		var item InventoryItem
		if err := tx.Where("business_id = ? AND id = ?", businessId, itemId).
			First(&item).Error; err != nil {
			return changed, err
		}
		if err := RecomputeItemExpiryFlags(tx, &item); err != nil {
			return changed, err
		}
	}
	return changed, nil
}

// ListBatches returns an item's batches, FEFO order.
func ListBatches(ctx context.Context, itemId int, status *BatchStatus) ([]*Batch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Batch

	dbCtx := db.WithContext(ctx).Where("business_id = ? AND item_id = ?", businessId, itemId)
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	// db query
	err := dbCtx.Order("expiry_date IS NULL, expiry_date ASC, received_date ASC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
