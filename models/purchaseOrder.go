package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

type PurchaseOrderStatus string

const (
	PurchaseOrderStatusDraft     PurchaseOrderStatus = "DRAFT"
	PurchaseOrderStatusOrdered   PurchaseOrderStatus = "ORDERED"
	PurchaseOrderStatusReceived  PurchaseOrderStatus = "RECEIVED"
	PurchaseOrderStatusCancelled PurchaseOrderStatus = "CANCELLED"
	PurchaseOrderStatusFailed    PurchaseOrderStatus = "FAILED"
)

// PurchaseOrder is a supplier order. Receiving it is the only way batches
// enter the system; the stock postings run in the receiving workflow.
type PurchaseOrder struct {
	ID           int                   `gorm:"primary_key" json:"id"`
	BusinessId   string                `gorm:"index;not null;index:uniq_po_number,unique,priority:1" json:"business_id"`
	OrderNumber  string                `gorm:"size:50;not null;index:uniq_po_number,unique,priority:2" json:"order_number" binding:"required"`
	SupplierName string                `gorm:"size:100" json:"supplier_name"`
	Status       PurchaseOrderStatus   `gorm:"size:10;not null;default:'DRAFT'" json:"status"`
	ExpectedDate *time.Time            `json:"expected_date"`
	ReceivedAt   *time.Time            `json:"received_at"`
	FailReason   *string               `gorm:"size:255" json:"fail_reason"`
	Details      []PurchaseOrderDetail `gorm:"foreignKey:PurchaseOrderId" json:"details"`
	CreatedAt    time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

func (po PurchaseOrder) GetBusinessId() string {
	return po.BusinessId
}

type PurchaseOrderDetail struct {
	ID              int             `gorm:"primary_key" json:"id"`
	PurchaseOrderId int             `gorm:"index;not null" json:"purchase_order_id"`
	ItemId          int             `gorm:"index;not null" json:"item_id"`
	Qty             decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty"`
	UnitCost        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_cost"`
	ExpiryDate      *time.Time      `json:"expiry_date"`
	BatchNumber     string          `gorm:"size:50" json:"batch_number"`
}

type NewPurchaseOrder struct {
	OrderNumber  string                   `json:"order_number" binding:"required"`
	SupplierName string                   `json:"supplier_name"`
	ExpectedDate *time.Time               `json:"expected_date"`
	Details      []NewPurchaseOrderDetail `json:"details" binding:"required,dive"`
}

type NewPurchaseOrderDetail struct {
	ItemId      int             `json:"item_id" binding:"required"`
	Qty         decimal.Decimal `json:"qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	ExpiryDate  *time.Time      `json:"expiry_date"`
	BatchNumber string          `json:"batch_number"`
}

// validate input for both create & update. (id = 0 for create)

func (input *NewPurchaseOrder) validate(ctx context.Context, businessId string, id int) error {
	// order number
	if err := utils.ValidateUnique[PurchaseOrder](ctx, businessId, "order_number", input.OrderNumber, id); err != nil {
		return err
	}
	if len(input.Details) == 0 {
		return errors.New("purchase order needs at least one line")
	}
	for _, detail := range input.Details {
		if !detail.Qty.IsPositive() {
			return &utils.InvalidQuantityError{Qty: detail.Qty, Reason: "line qty must be positive"}
		}
		if detail.UnitCost.IsNegative() {
			return &utils.ValidationError{Field: "unit_cost", Reason: "must not be negative"}
		}
		item, err := GetInventoryItem(ctx, detail.ItemId)
		if err != nil {
			return errors.New("line item not found")
		}
		// Batch-tracked consumables cannot enter without an expiry date.
		if item.Kind == ItemKindConsumable && item.IsBatchTracked != nil && *item.IsBatchTracked && detail.ExpiryDate == nil {
			return &utils.ValidationError{Field: "expiry_date", Reason: "required for batch-tracked consumable " + item.Sku}
		}
	}
	return nil
}

func CreatePurchaseOrder(ctx context.Context, input *NewPurchaseOrder) (*PurchaseOrder, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	po := PurchaseOrder{
		BusinessId:   businessId,
		OrderNumber:  input.OrderNumber,
		SupplierName: input.SupplierName,
		Status:       PurchaseOrderStatusOrdered,
		ExpectedDate: input.ExpectedDate,
	}
	for _, detail := range input.Details {
		po.Details = append(po.Details, PurchaseOrderDetail{
			ItemId:      detail.ItemId,
			Qty:         detail.Qty,
			UnitCost:    detail.UnitCost,
			ExpiryDate:  detail.ExpiryDate,
			BatchNumber: detail.BatchNumber,
		})
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Create(&po).Error
	if err != nil {
		return nil, err
	}
	return &po, nil
}

// ReceivePurchaseOrder flips the order to RECEIVED and enqueues the receiving
// workflow through the outbox. The stock postings (batches + receipt ledger
// entries) happen in the worker, all-or-nothing.
func ReceivePurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	po, err := utils.FetchModel[PurchaseOrder](ctx, businessId, id, "Details")
	if err != nil {
		return nil, err
	}
	if po.Status != PurchaseOrderStatusOrdered {
		return nil, errors.New("purchase order is not in ORDERED status")
	}

	now := time.Now().UTC()
	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(po).Updates(map[string]interface{}{
			"Status":     PurchaseOrderStatusReceived,
			"ReceivedAt": &now,
		}).Error
		if err != nil {
			return err
		}
		return PublishToInventoryWorkflow(ctx, tx, businessId, now, po.ID,
			StockReferenceTypePurchaseOrder, po, PubSubMessageActionCreate)
	})
	if err != nil {
		return nil, err
	}
	return po, nil
}

// FailPurchaseOrderReceipt flips a RECEIVED order whose stock postings can
// never succeed to FAILED, so it is not read as received with no batches
// behind it. The lines stay intact for correction and re-entry.
func FailPurchaseOrderReceipt(tx *gorm.DB, businessId string, id int, reason string) error {
	return tx.Model(&PurchaseOrder{}).
		Where("id = ? AND business_id = ? AND status = ?", id, businessId, PurchaseOrderStatusReceived).
		Updates(map[string]interface{}{
			"Status":     PurchaseOrderStatusFailed,
			"FailReason": &reason,
		}).Error
}

func CancelPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	po, err := utils.FetchModel[PurchaseOrder](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	if po.Status == PurchaseOrderStatusReceived {
		return nil, errors.New("received purchase order cannot be cancelled")
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(po).
		Update("Status", PurchaseOrderStatusCancelled).Error
	if err != nil {
		return nil, err
	}
	return po, nil
}

func GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[PurchaseOrder](ctx, businessId, id, "Details")
}

func ListPurchaseOrders(ctx context.Context, status *PurchaseOrderStatus) ([]*PurchaseOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*PurchaseOrder

	dbCtx := db.WithContext(ctx).Preload("Details").Where("business_id = ?", businessId)
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	// db query
	err := dbCtx.Order("created_at DESC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
