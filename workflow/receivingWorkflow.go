package workflow

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/models"
	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

// ProcessReceivingWorkflow posts the stock side of a received purchase order:
// one batch (for batch-tracked items) and one receipt ledger entry per line,
// with moving-average recosting. The whole receipt posts or none of it does.
func ProcessReceivingWorkflow(tx *gorm.DB, logger *logrus.Logger, msg config.PubSubMessage) error {

	var po models.PurchaseOrder
	err := tx.Preload("Details").
		Where("business_id = ? AND id = ?", msg.BusinessId, msg.ReferenceId).
		First(&po).Error
	if err != nil {
		config.LogError(logger, "ReceivingWorkflow.go", "ProcessReceivingWorkflow", "Load purchase order", msg.ReferenceId, err)
		return err
	}

	receivedDate := msg.TransactionDateTime
	if po.ReceivedAt != nil {
		receivedDate = *po.ReceivedAt
	}

	// Lock item rows in ascending id order.
	details := make([]models.PurchaseOrderDetail, len(po.Details))
	copy(details, po.Details)
	sort.Slice(details, func(i, j int) bool { return details[i].ItemId < details[j].ItemId })

	itemIds := make([]int, 0, len(details))
	seen := map[int]bool{}
	for _, detail := range details {
		if !seen[detail.ItemId] {
			seen[detail.ItemId] = true
			itemIds = append(itemIds, detail.ItemId)
		}
	}
	items, err := models.LockInventoryItems(tx, msg.BusinessId, itemIds)
	if err != nil {
		config.LogError(logger, "ReceivingWorkflow.go", "ProcessReceivingWorkflow", "Lock items", itemIds, err)
		return err
	}

	// Re-validate before writing. API validation can't be trusted for
	// messages replayed after an item was reconfigured.
	for _, detail := range details {
		item := items[detail.ItemId]
		if item.Kind == models.ItemKindConsumable && item.IsBatchTracked != nil && *item.IsBatchTracked && detail.ExpiryDate == nil {
			valErr := &utils.ValidationError{Field: "expiry_date", Reason: "required for batch-tracked consumable " + item.Sku}
			if logger != nil {
				logger.WithFields(logrus.Fields{
					"field":        "ReceivingWorkflow",
					"order_number": po.OrderNumber,
					"item_id":      item.ID,
				}).Warn(valErr.Error())
			}
			// Drop permanently; the order needs correcting, not retrying.
			// Flip the order to FAILED so it is not read as received stock.
			if err := models.FailPurchaseOrderReceipt(tx, msg.BusinessId, po.ID, valErr.Error()); err != nil {
				return err
			}
			return models.MarkEventProcessed(tx, msg.ID, valErr)
		}
	}

	for _, detail := range details {
		item := items[detail.ItemId]

		batchNumber := detail.BatchNumber
		if item.IsBatchTracked != nil && *item.IsBatchTracked {
			batch, err := models.CreateBatch(tx, item, models.NewBatch{
				Qty:          detail.Qty,
				UnitCost:     detail.UnitCost,
				ExpiryDate:   detail.ExpiryDate,
				ReceivedDate: receivedDate,
				SupplierRef:  po.SupplierName,
				BatchNumber:  detail.BatchNumber,
			})
			if err != nil {
				config.LogError(logger, "ReceivingWorkflow.go", "ProcessReceivingWorkflow", "Create batch", detail.ItemId, err)
				return err
			}
			batchNumber = batch.BatchNumber
			// Write the generated batch identifier back to the order line.
			if batchNumber != detail.BatchNumber {
				err := tx.Model(&models.PurchaseOrderDetail{}).
					Where("id = ?", detail.ID).
					Update("batch_number", batchNumber).Error
				if err != nil {
					config.LogError(logger, "ReceivingWorkflow.go", "ProcessReceivingWorkflow", "Record batch number", detail.ID, err)
					return err
				}
			}
		}

		_, err := models.AdjustStock(tx, item, models.AdjustStockInput{
			Delta:         detail.Qty,
			EntryType:     models.LedgerEntryTypeReceipt,
			UnitCost:      detail.UnitCost,
			BatchNumber:   batchNumber,
			ReferenceType: models.StockReferenceTypePurchaseOrder,
			ReferenceId:   po.ID,
			Reference:     po.OrderNumber,
			StockDate:     receivedDate,
			ActorName:     "System",
			CorrelationId: msg.CorrelationId,
		})
		if err != nil {
			config.LogError(logger, "ReceivingWorkflow.go", "ProcessReceivingWorkflow", "Receipt entry", detail.ItemId, err)
			return err
		}

		if item.IsBatchTracked != nil && *item.IsBatchTracked {
			if err := models.RecomputeItemExpiryFlags(tx, item); err != nil {
				return err
			}
		}
	}

	return nil
}

// ProcessExpirySweep runs the daily batch status sweep for one business.
// The sweep day is the given instant rendered in the business's timezone, so
// a batch expiring "today" flips at the property's midnight, not UTC's.
func ProcessExpirySweep(tx *gorm.DB, logger *logrus.Logger, businessId string, now time.Time) (int, error) {
	biz, err := models.GetBusinessById(tx, businessId)
	if err != nil {
		config.LogError(logger, "ReceivingWorkflow.go", "ProcessExpirySweep", "Load business", businessId, err)
		return 0, err
	}
	today, err := utils.ConvertToDate(now, biz.Timezone)
	if err != nil {
		config.LogError(logger, "ReceivingWorkflow.go", "ProcessExpirySweep", "Resolve business timezone", biz.Timezone, err)
		return 0, err
	}
	changed, err := models.SweepBatchStatuses(tx, businessId, today)
	if err != nil {
		config.LogError(logger, "ReceivingWorkflow.go", "ProcessExpirySweep", "Sweep batch statuses", businessId, err)
		return changed, err
	}
	if logger != nil && changed > 0 {
		logger.WithFields(logrus.Fields{
			"field":       "ExpirySweep",
			"business_id": businessId,
			"changed":     changed,
			"date":        today.Format("2006-01-02"),
		}).Info(fmt.Sprintf("updated %d batch statuses", changed))
	}
	return changed, nil
}
