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

type OrderDeductionStatus string

const (
	OrderDeductionStatusPending   OrderDeductionStatus = "PENDING"
	OrderDeductionStatusCompleted OrderDeductionStatus = "COMPLETED"
	OrderDeductionStatusFailed    OrderDeductionStatus = "FAILED"
)

// OrderDeduction tracks one POS order's stock deduction. OrderRef is the POS
// order identifier and doubles as the idempotency handle: resubmitting the
// same order never deducts twice.
type OrderDeduction struct {
	ID              int                  `gorm:"primary_key" json:"id"`
	BusinessId      string               `gorm:"index;not null;index:uniq_order_ref,unique,priority:1" json:"business_id"`
	OrderRef        string               `gorm:"size:100;not null;index:uniq_order_ref,unique,priority:2" json:"order_ref"`
	Status          OrderDeductionStatus `gorm:"size:10;not null;default:'PENDING'" json:"status"`
	SkippedProducts []byte               `gorm:"type:json" json:"skipped_products"`
	FailReason      *string              `gorm:"type:text" json:"fail_reason"`
	CompletedAt     *time.Time           `json:"completed_at"`
	CreatedAt       time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

func (d OrderDeduction) GetBusinessId() string {
	return d.BusinessId
}

// OrderDeductionRequest is the order payload carried through the outbox to
// the deduction workflow.
type OrderDeductionRequest struct {
	OrderRef string               `json:"order_ref"`
	Lines    []OrderDeductionLine `json:"lines"`
}

type OrderDeductionLine struct {
	ProductRef string          `json:"product_ref"`
	Servings   decimal.Decimal `json:"servings"`
}

func (input *OrderDeductionRequest) validate() error {
	if input.OrderRef == "" {
		return &utils.ValidationError{Field: "order_ref", Reason: "is required"}
	}
	if len(input.Lines) == 0 {
		return errors.New("order needs at least one line")
	}
	for _, line := range input.Lines {
		if line.ProductRef == "" {
			return &utils.ValidationError{Field: "product_ref", Reason: "is required"}
		}
		if !line.Servings.IsPositive() {
			return &utils.InvalidQuantityError{Qty: line.Servings, Reason: "servings must be positive"}
		}
	}
	return nil
}

// SubmitOrderDeduction records the order and enqueues the deduction workflow
// through the outbox. A resubmitted order ref returns the existing record
// instead of queueing a second deduction.
func SubmitOrderDeduction(ctx context.Context, input *OrderDeductionRequest) (*OrderDeduction, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(); err != nil {
		return nil, err
	}

	db := config.GetDB()

	var existing OrderDeduction
	err := db.WithContext(ctx).
		Where("business_id = ? AND order_ref = ?", businessId, input.OrderRef).
		First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	deduction := OrderDeduction{
		BusinessId: businessId,
		OrderRef:   input.OrderRef,
		Status:     OrderDeductionStatusPending,
	}

	now := time.Now().UTC()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&deduction).Error; err != nil {
			return err
		}
		return PublishToInventoryWorkflow(ctx, tx, businessId, now, deduction.ID,
			StockReferenceTypeOrder, input, PubSubMessageActionCreate)
	})
	if err != nil {
		return nil, err
	}
	return &deduction, nil
}

func GetOrderDeduction(ctx context.Context, id int) (*OrderDeduction, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[OrderDeduction](ctx, businessId, id)
}

func ListOrderDeductions(ctx context.Context, status *OrderDeductionStatus) ([]*OrderDeduction, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*OrderDeduction

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
