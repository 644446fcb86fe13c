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

type TransferOrderStatus string

const (
	TransferOrderStatusPending   TransferOrderStatus = "PENDING"
	TransferOrderStatusCompleted TransferOrderStatus = "COMPLETED"
	TransferOrderStatusFailed    TransferOrderStatus = "FAILED"
)

// TransferOrder moves stock from one item record to another (same good
// tracked at two locations, possibly in different units: the central store
// counts kg, the kitchen counts g). Qty is in the source item's unit.
// TransferRef ties the paired out/in ledger entries together.
type TransferOrder struct {
	ID          int                 `gorm:"primary_key" json:"id"`
	BusinessId  string              `gorm:"index;not null" json:"business_id"`
	TransferRef string              `gorm:"size:36;not null;index" json:"transfer_ref"`
	FromItemId  int                 `gorm:"index;not null" json:"from_item_id"`
	ToItemId    int                 `gorm:"index;not null" json:"to_item_id"`
	Qty         decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"qty"`
	Status      TransferOrderStatus `gorm:"size:10;not null;default:'PENDING'" json:"status"`
	FailReason  *string             `gorm:"type:text" json:"fail_reason"`
	Notes       string              `gorm:"type:text" json:"notes"`
	CompletedAt *time.Time          `json:"completed_at"`
	CreatedAt   time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t TransferOrder) GetBusinessId() string {
	return t.BusinessId
}

func (t *TransferOrder) BeforeCreate(tx *gorm.DB) error {
	_ = tx
	if t.TransferRef == "" {
		t.TransferRef = uuid.NewString()
	}
	return nil
}

type NewTransferOrder struct {
	FromItemId int             `json:"from_item_id" binding:"required"`
	ToItemId   int             `json:"to_item_id" binding:"required"`
	Qty        decimal.Decimal `json:"qty"`
	Notes      string          `json:"notes"`
}

func (input *NewTransferOrder) validate(ctx context.Context, businessId string) error {
	if input.FromItemId == input.ToItemId {
		return errors.New("cannot transfer an item onto itself")
	}
	if !input.Qty.IsPositive() {
		return &utils.InvalidQuantityError{Qty: input.Qty, Reason: "transfer qty must be positive"}
	}
	fromItem, err := GetInventoryItem(ctx, input.FromItemId)
	if err != nil {
		return errors.New("source item not found")
	}
	toItem, err := GetInventoryItem(ctx, input.ToItemId)
	if err != nil {
		return errors.New("destination item not found")
	}
	// Fail early on undeclared unit pairs; the workflow re-checks.
	if _, err := ConversionFactor(fromItem.Unit, toItem.Unit); err != nil {
		return err
	}
	return nil
}

// CreateTransferOrder records the transfer and enqueues the transfer workflow
// through the outbox. Both ledger sides post in the worker, all-or-nothing.
func CreateTransferOrder(ctx context.Context, input *NewTransferOrder) (*TransferOrder, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	transfer := TransferOrder{
		BusinessId: businessId,
		FromItemId: input.FromItemId,
		ToItemId:   input.ToItemId,
		Qty:        input.Qty,
		Status:     TransferOrderStatusPending,
		Notes:      input.Notes,
	}

	now := time.Now().UTC()
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&transfer).Error; err != nil {
			return err
		}
		return PublishToInventoryWorkflow(ctx, tx, businessId, now, transfer.ID,
			StockReferenceTypeTransfer, transfer, PubSubMessageActionCreate)
	})
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func GetTransferOrder(ctx context.Context, id int) (*TransferOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[TransferOrder](ctx, businessId, id)
}

func ListTransferOrders(ctx context.Context, status *TransferOrderStatus) ([]*TransferOrder, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*TransferOrder

	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
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
