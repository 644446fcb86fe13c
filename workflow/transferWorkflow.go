package workflow

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/models"
)

// ProcessTransferWorkflow posts both sides of a stock transfer: a
// transfer-out entry on the source item and a transfer-in entry on the
// destination item, converted between units when the two records track the
// same good differently (store kg, kitchen g). The pair shares the order's
// transfer ref, and total stock value is conserved: destination unit cost is
// the source's moving-average cost divided by the conversion factor.
func ProcessTransferWorkflow(tx *gorm.DB, logger *logrus.Logger, msg config.PubSubMessage) error {

	var transfer models.TransferOrder
	err := tx.Where("business_id = ? AND id = ?", msg.BusinessId, msg.ReferenceId).
		First(&transfer).Error
	if err != nil {
		config.LogError(logger, "TransferWorkflow.go", "ProcessTransferWorkflow", "Load transfer order", msg.ReferenceId, err)
		return err
	}
	if transfer.Status == models.TransferOrderStatusCompleted {
		return nil
	}

	items, err := models.LockInventoryItems(tx, msg.BusinessId, []int{transfer.FromItemId, transfer.ToItemId})
	if err != nil {
		config.LogError(logger, "TransferWorkflow.go", "ProcessTransferWorkflow", "Lock items", transfer.ID, err)
		return err
	}
	fromItem := items[transfer.FromItemId]
	toItem := items[transfer.ToItemId]

	factor, err := models.ConversionFactor(fromItem.Unit, toItem.Unit)
	if err != nil {
		return failTransfer(tx, logger, &transfer, msg.ID, err.Error())
	}

	if fromItem.Quantity.Cmp(transfer.Qty) < 0 {
		reason := fmt.Sprintf("insufficient stock: %s (required %s, available %s)",
			fromItem.Name, transfer.Qty.String(), fromItem.Quantity.String())
		return failTransfer(tx, logger, &transfer, msg.ID, reason)
	}

	today := time.Now().UTC()

	// Drain source batches FEFO and carry the earliest consumed expiry to the
	// destination so the receiving location inherits the shelf-life clock.
	var earliestExpiry *time.Time
	sourceBatchNumber := ""
	if fromItem.IsBatchTracked != nil && *fromItem.IsBatchTracked {
		plan, err := models.PlanItemConsumption(tx, msg.BusinessId, fromItem.ID, transfer.Qty, today)
		if err != nil {
			return failTransfer(tx, logger, &transfer, msg.ID, err.Error())
		}
		if err := models.ApplyConsumptionPlan(tx, plan); err != nil {
			config.LogError(logger, "TransferWorkflow.go", "ProcessTransferWorkflow", "Apply FIFO consumption", fromItem.ID, err)
			return err
		}
		if len(plan) > 0 {
			sourceBatchNumber = plan[0].BatchNumber
		}
		for _, consumption := range plan {
			var batch models.Batch
			if err := tx.Where("id = ?", consumption.BatchId).First(&batch).Error; err != nil {
				return err
			}
			if batch.ExpiryDate != nil && (earliestExpiry == nil || batch.ExpiryDate.Before(*earliestExpiry)) {
				earliestExpiry = batch.ExpiryDate
			}
		}
		if err := models.RecomputeItemExpiryFlags(tx, fromItem); err != nil {
			return err
		}
	}

	sourceUnitCost := fromItem.AverageUnitCost
	destQty := transfer.Qty.Mul(factor)
	destUnitCost := sourceUnitCost
	if !factor.Equal(models.OneToOneFactor) {
		destUnitCost = sourceUnitCost.Div(factor)
	}

	_, err = models.AdjustStock(tx, fromItem, models.AdjustStockInput{
		Delta:         transfer.Qty.Neg(),
		EntryType:     models.LedgerEntryTypeTransferOut,
		UnitCost:      sourceUnitCost,
		BatchNumber:   sourceBatchNumber,
		ReferenceType: models.StockReferenceTypeTransfer,
		ReferenceId:   transfer.ID,
		Reference:     transfer.TransferRef,
		StockDate:     msg.TransactionDateTime,
		ActorName:     "System",
		CorrelationId: msg.CorrelationId,
	})
	if err != nil {
		config.LogError(logger, "TransferWorkflow.go", "ProcessTransferWorkflow", "Transfer-out entry", fromItem.ID, err)
		return err
	}

	destBatchNumber := ""
	if toItem.IsBatchTracked != nil && *toItem.IsBatchTracked {
		batch, err := models.CreateBatch(tx, toItem, models.NewBatch{
			Qty:          destQty,
			UnitCost:     destUnitCost,
			ExpiryDate:   earliestExpiry,
			ReceivedDate: today,
		})
		if err != nil {
			config.LogError(logger, "TransferWorkflow.go", "ProcessTransferWorkflow", "Create destination batch", toItem.ID, err)
			return err
		}
		destBatchNumber = batch.BatchNumber
	}

	_, err = models.AdjustStock(tx, toItem, models.AdjustStockInput{
		Delta:         destQty,
		EntryType:     models.LedgerEntryTypeTransferIn,
		UnitCost:      destUnitCost,
		BatchNumber:   destBatchNumber,
		ReferenceType: models.StockReferenceTypeTransfer,
		ReferenceId:   transfer.ID,
		Reference:     transfer.TransferRef,
		StockDate:     msg.TransactionDateTime,
		ActorName:     "System",
		CorrelationId: msg.CorrelationId,
	})
	if err != nil {
		config.LogError(logger, "TransferWorkflow.go", "ProcessTransferWorkflow", "Transfer-in entry", toItem.ID, err)
		return err
	}

	if toItem.IsBatchTracked != nil && *toItem.IsBatchTracked {
		if err := models.RecomputeItemExpiryFlags(tx, toItem); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	return tx.Model(&transfer).Updates(map[string]interface{}{
		"Status":      models.TransferOrderStatusCompleted,
		"CompletedAt": &now,
	}).Error
}

// failTransfer records the failure and drops the message permanently.
func failTransfer(tx *gorm.DB, logger *logrus.Logger, transfer *models.TransferOrder, recordId int, reason string) error {
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":        "TransferWorkflow",
			"transfer_ref": transfer.TransferRef,
		}).Warn(reason)
	}
	err := tx.Model(transfer).Updates(map[string]interface{}{
		"Status":     models.TransferOrderStatusFailed,
		"FailReason": &reason,
	}).Error
	if err != nil {
		return err
	}
	return models.MarkEventProcessed(tx, recordId, fmt.Errorf("%s", reason))
}
