package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/models"
	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

// ProcessOrderDeductionWorkflow deducts ingredient stock for one POS order.
// All-or-nothing: every line's requirements are aggregated, every touched
// item row is locked in ascending id order, and only when the full
// requirement is coverable does any ledger entry get written. Products
// without a recipe are skipped and reported, never guessed at.
func ProcessOrderDeductionWorkflow(tx *gorm.DB, logger *logrus.Logger, msg config.PubSubMessage) error {

	var request models.OrderDeductionRequest
	if err := json.Unmarshal(msg.Payload, &request); err != nil {
		config.LogError(logger, "OrderDeductionWorkflow.go", "ProcessOrderDeductionWorkflow", "Unmarshal payload", msg.ID, err)
		return err
	}

	var deduction models.OrderDeduction
	err := tx.Where("business_id = ? AND id = ?", msg.BusinessId, msg.ReferenceId).
		First(&deduction).Error
	if err != nil {
		config.LogError(logger, "OrderDeductionWorkflow.go", "ProcessOrderDeductionWorkflow", "Load order deduction", msg.ReferenceId, err)
		return err
	}
	if deduction.Status == models.OrderDeductionStatusCompleted {
		return nil
	}

	// Resolve each line's recipe; no recipe means the product doesn't touch
	// inventory (bought-in sodas, service charges).
	var skippedProducts []string
	var lineRequirements []map[int]decimal.Decimal
	for _, line := range request.Lines {
		recipe, err := models.GetRecipeByProductRef(tx, msg.BusinessId, line.ProductRef)
		if err != nil {
			config.LogError(logger, "OrderDeductionWorkflow.go", "ProcessOrderDeductionWorkflow", "Resolve recipe", line.ProductRef, err)
			return err
		}
		if recipe == nil {
			skippedProducts = append(skippedProducts, line.ProductRef)
			continue
		}
		lineRequirements = append(lineRequirements, models.ResolveRecipeRequirements(recipe, line.Servings))
	}

	requirements := models.AggregateRequirements(lineRequirements)
	if len(requirements) == 0 {
		return completeOrderDeduction(tx, &deduction, skippedProducts)
	}

	itemIds := models.SortedItemIds(requirements)
	items, err := models.LockInventoryItems(tx, msg.BusinessId, itemIds)
	if err != nil {
		config.LogError(logger, "OrderDeductionWorkflow.go", "ProcessOrderDeductionWorkflow", "Lock items", itemIds, err)
		return err
	}

	// Validate the whole order before writing anything: aggregate quantities
	// first, then FIFO coverage for batch-tracked items.
	today := time.Now().UTC()
	var shortages []models.Shortage
	plans := make(map[int][]models.BatchConsumption)
	for _, itemId := range itemIds {
		item := items[itemId]
		required := requirements[itemId]
		if item.Quantity.Cmp(required) < 0 {
			shortages = append(shortages, models.Shortage{
				ItemId:    item.ID,
				ItemName:  item.Name,
				Required:  required,
				Available: item.Quantity,
			})
			continue
		}
		if item.IsBatchTracked != nil && *item.IsBatchTracked {
			plan, err := models.PlanItemConsumption(tx, msg.BusinessId, itemId, required, today)
			if err != nil {
				if batchErr, ok := err.(*utils.InsufficientBatchStockError); ok {
					shortages = append(shortages, models.Shortage{
						ItemId:    itemId,
						ItemName:  item.Name,
						Required:  batchErr.Required,
						Available: batchErr.Available,
					})
					continue
				}
				config.LogError(logger, "OrderDeductionWorkflow.go", "ProcessOrderDeductionWorkflow", "Plan FIFO consumption", itemId, err)
				return err
			}
			plans[itemId] = plan
		}
	}
	if len(shortages) > 0 {
		return failOrderDeduction(tx, logger, &deduction, msg.ID, shortages)
	}

	for _, itemId := range itemIds {
		item := items[itemId]
		required := requirements[itemId]

		if plan, tracked := plans[itemId]; tracked {
			if err := models.ApplyConsumptionPlan(tx, plan); err != nil {
				config.LogError(logger, "OrderDeductionWorkflow.go", "ProcessOrderDeductionWorkflow", "Apply FIFO consumption", itemId, err)
				return err
			}
			for _, consumption := range plan {
				_, err := models.AdjustStock(tx, item, models.AdjustStockInput{
					Delta:         consumption.Qty.Neg(),
					EntryType:     models.LedgerEntryTypeUsage,
					UnitCost:      consumption.UnitCost,
					BatchNumber:   consumption.BatchNumber,
					ReferenceType: models.StockReferenceTypeOrder,
					ReferenceId:   deduction.ID,
					Reference:     request.OrderRef,
					StockDate:     msg.TransactionDateTime,
					ActorName:     "System",
					CorrelationId: msg.CorrelationId,
				})
				if err != nil {
					config.LogError(logger, "OrderDeductionWorkflow.go", "ProcessOrderDeductionWorkflow", "Usage entry", itemId, err)
					return err
				}
			}
			if err := models.RecomputeItemExpiryFlags(tx, item); err != nil {
				return err
			}
		} else {
			_, err := models.AdjustStock(tx, item, models.AdjustStockInput{
				Delta:         required.Neg(),
				EntryType:     models.LedgerEntryTypeUsage,
				ReferenceType: models.StockReferenceTypeOrder,
				ReferenceId:   deduction.ID,
				Reference:     request.OrderRef,
				StockDate:     msg.TransactionDateTime,
				ActorName:     "System",
				CorrelationId: msg.CorrelationId,
			})
			if err != nil {
				config.LogError(logger, "OrderDeductionWorkflow.go", "ProcessOrderDeductionWorkflow", "Usage entry", itemId, err)
				return err
			}
		}
	}

	return completeOrderDeduction(tx, &deduction, skippedProducts)
}

func completeOrderDeduction(tx *gorm.DB, deduction *models.OrderDeduction, skippedProducts []string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"Status":      models.OrderDeductionStatusCompleted,
		"CompletedAt": &now,
	}
	if len(skippedProducts) > 0 {
		skippedJSON, err := json.Marshal(skippedProducts)
		if err != nil {
			return err
		}
		updates["SkippedProducts"] = skippedJSON
	}
	return tx.Model(deduction).Updates(updates).Error
}

// failOrderDeduction records the shortage report and drops the message
// permanently. Retrying won't conjure up stock, and the POS gets the failure
// through the deduction status.
func failOrderDeduction(tx *gorm.DB, logger *logrus.Logger, deduction *models.OrderDeduction, recordId int, shortages []models.Shortage) error {
	reason := "insufficient stock:"
	for _, shortage := range shortages {
		reason += fmt.Sprintf(" %s (required %s, available %s);",
			shortage.ItemName, shortage.Required.String(), shortage.Available.String())
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":     "OrderDeduction",
			"order_ref": deduction.OrderRef,
		}).Warn(reason)
	}

	err := tx.Model(deduction).Updates(map[string]interface{}{
		"Status":     models.OrderDeductionStatusFailed,
		"FailReason": &reason,
	}).Error
	if err != nil {
		return err
	}
	return models.MarkEventProcessed(tx, recordId, fmt.Errorf("%s", reason))
}
