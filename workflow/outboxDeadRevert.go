package workflow

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/models"
)

// FailDeadReference unsticks the business document behind an event that went
// DEAD: a deduction or transfer left PENDING would otherwise be polled
// forever by the POS, and a purchase order left RECEIVED would be read as
// stock that never posted. Adjustments and disposals post synchronously, so
// DEAD events for them carry no pending document to fail.
func FailDeadReference(ctx context.Context, db *gorm.DB, logger *logrus.Logger, rec models.InventoryEventRecord) {
	if rec.ReferenceId <= 0 {
		return
	}
	reason := "event delivery exhausted retries"

	switch rec.ReferenceType {
	case models.StockReferenceTypeOrder:
		err := db.WithContext(ctx).Model(&models.OrderDeduction{}).
			Where("id = ? AND business_id = ? AND status = ?",
				rec.ReferenceId, rec.BusinessId, models.OrderDeductionStatusPending).
			Updates(map[string]interface{}{
				"Status":     models.OrderDeductionStatusFailed,
				"FailReason": &reason,
			}).Error
		if err != nil && logger != nil {
			logger.WithFields(logrus.Fields{
				"field":        "OutboxDeadRevert",
				"business_id":  rec.BusinessId,
				"reference_id": rec.ReferenceId,
			}).Warn("failed to fail order deduction after DEAD event: " + err.Error())
		}
	case models.StockReferenceTypePurchaseOrder:
		err := models.FailPurchaseOrderReceipt(db.WithContext(ctx), rec.BusinessId, rec.ReferenceId, reason)
		if err != nil && logger != nil {
			logger.WithFields(logrus.Fields{
				"field":        "OutboxDeadRevert",
				"business_id":  rec.BusinessId,
				"reference_id": rec.ReferenceId,
			}).Warn("failed to fail purchase order after DEAD event: " + err.Error())
		}
	case models.StockReferenceTypeTransfer:
		err := db.WithContext(ctx).Model(&models.TransferOrder{}).
			Where("id = ? AND business_id = ? AND status = ?",
				rec.ReferenceId, rec.BusinessId, models.TransferOrderStatusPending).
			Updates(map[string]interface{}{
				"Status":     models.TransferOrderStatusFailed,
				"FailReason": &reason,
			}).Error
		if err != nil && logger != nil {
			logger.WithFields(logrus.Fields{
				"field":        "OutboxDeadRevert",
				"business_id":  rec.BusinessId,
				"reference_id": rec.ReferenceId,
			}).Warn("failed to fail transfer order after DEAD event: " + err.Error())
		}
	}
}
