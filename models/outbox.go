package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

// Outbox publish statuses for InventoryEventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// InventoryEventRecord is the transactional outbox row for one inventory
// event (order deduction, PO receipt, transfer). The record commits with the
// business write; the dispatcher publishes it to Pub/Sub afterwards, and the
// direct poller hands it to the worker when Pub/Sub is disabled.
type InventoryEventRecord struct {
	ID                  int                 `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	BusinessId          string              `gorm:"size:64;not null;index" json:"business_id"`
	TransactionDateTime time.Time           `gorm:"index;not null" json:"transaction_date_time"`
	ReferenceId         int                 `json:"reference_id"`
	ReferenceType       StockReferenceType  `gorm:"type:enum('ORD','PO','TR','ADJ','DSP','OS')" json:"reference_type"`
	Action              PubSubMessageAction `gorm:"type:enum('C','U','D')" json:"action"`
	Payload             []byte              `gorm:"type:blob" json:"payload"`
	IsProcessed         bool                `gorm:"index;not null" json:"is_processed"`
	PublishStatus       string              `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt         *time.Time          `gorm:"index" json:"published_at"`
	PubSubMessageId     *string             `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts     int                 `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt       *time.Time          `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt            *time.Time          `gorm:"index" json:"locked_at"`
	LockedBy            *string             `gorm:"size:100" json:"locked_by"`
	LastPublishError    *string             `gorm:"type:text" json:"last_publish_error"`
	LastProcessError    *string             `gorm:"type:text" json:"last_process_error"`
	ProcessAttempts     int                 `gorm:"not null;default:0" json:"process_attempts"`
	NextProcessAttempt  *time.Time          `gorm:"index" json:"next_process_attempt"`
	ProcessedAt         *time.Time          `gorm:"index" json:"processed_at"`
	CorrelationId       string              `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt           time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func ConvertToPubSubMessage(record InventoryEventRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:                  record.ID,
		BusinessId:          record.BusinessId,
		TransactionDateTime: record.TransactionDateTime,
		ReferenceId:         record.ReferenceId,
		ReferenceType:       string(record.ReferenceType),
		Action:              string(record.Action),
		Payload:             record.Payload,
		CorrelationId:       record.CorrelationId,
	}
}

// PublishToInventoryWorkflow writes the event record inside the caller's DB
// transaction but does NOT publish to Pub/Sub. Publishing happens
// asynchronously after commit, so the event and the document it references
// are never visible separately.
func PublishToInventoryWorkflow(ctx context.Context, db *gorm.DB, businessId string, transactionDateTime time.Time, refId int, refType StockReferenceType, payload interface{}, msgAction PubSubMessageAction) error {
	payloadInByte, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	record := InventoryEventRecord{
		BusinessId:          businessId,
		TransactionDateTime: transactionDateTime,
		ReferenceId:         refId,
		ReferenceType:       refType,
		Action:              msgAction,
		Payload:             payloadInByte,
		IsProcessed:         false,
		PublishStatus:       OutboxPublishStatusPending,
		CorrelationId:       correlationIdFromContextOrNew(ctx),
	}
	return db.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// MarkEventProcessed records the worker outcome on the outbox row. A non-nil
// processErr still marks the row processed: callers use it for permanent
// business failures (shortages, bad documents) that must not be retried. The
// error text is kept for ops triage.
func MarkEventProcessed(tx *gorm.DB, recordId int, processErr error) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"IsProcessed": true,
		"ProcessedAt": &now,
	}
	if processErr != nil {
		msg := processErr.Error()
		updates["LastProcessError"] = &msg
	} else {
		updates["LastProcessError"] = nil
	}
	return tx.Model(&InventoryEventRecord{}).
		Where("id = ?", recordId).
		Updates(updates).Error
}
