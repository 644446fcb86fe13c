package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/models"
	"bitbucket.org/mmdatafocus/hotel_backend/utils"
	"bitbucket.org/mmdatafocus/hotel_backend/workflow"
)

var (
	businessMutexMap = make(map[string]*sync.Mutex)
	globalMutex      = &sync.Mutex{}
)

func RunInventoryWorkflow() error {
	logger := config.GetLogger()
	ctx := context.Background()
	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}
	topic, err := config.CreateTopicIfNotExists(client, os.Getenv("PUBSUB_TOPIC"))
	if err != nil {
		return err
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, os.Getenv("PUBSUB_SUBSCRIPTION"), topic)
	if err != nil {
		return err
	}
	// Specify the number of concurrent processes
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	// Create a callback function to handle messages.
	callback := func(ctx context.Context, msg *pubsub.Message) {
		m := config.PubSubMessage{}
		err := json.Unmarshal(msg.Data, &m)
		if err != nil {
			config.LogError(logger, "InventoryWorkflow.go", "RunInventoryWorkflow", "Unmarshaling pubsub message", msg.Data, err)
			return
		}

		// Get or create the mutex for the current BusinessId
		globalMutex.Lock()
		mutex, exists := businessMutexMap[m.BusinessId]
		if !exists {
			mutex = &sync.Mutex{}
			businessMutexMap[m.BusinessId] = mutex
		}
		globalMutex.Unlock()

		// Lock the specific business mutex
		mutex.Lock()
		defer mutex.Unlock()

		ctx = context.WithValue(ctx, utils.ContextKeyBusinessId, m.BusinessId)
		ctx = context.WithValue(ctx, utils.ContextKeyUserId, 0)
		ctx = context.WithValue(ctx, utils.ContextKeyUserName, "System")
		ctx = utils.SetCorrelationIdInContext(ctx, m.CorrelationId)
		if err := ProcessMessage(ctx, logger, m); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "InventoryWorkflow",
				"business_id":    m.BusinessId,
				"reference_type": m.ReferenceType,
				"reference_id":   m.ReferenceId,
				"message_id":     msg.ID,
			}).Error("pubsub processing failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	// Receive messages.
	go func() {
		err := sub.Receive(ctx, callback)

		if err != nil {
			config.LogError(logger, "InventoryWorkflow.go", "RunInventoryWorkflow", "Failed to receive messages", nil, err)
		}
	}()

	return nil
}

func ProcessMessage(ctx context.Context, logger *logrus.Logger, m config.PubSubMessage) error {
	db := config.GetDB()
	return db.Transaction(func(tx *gorm.DB) error {
		// Enforce strict per-business ordering across instances.
		if err := workflow.AcquireBusinessPostingLock(tx.WithContext(ctx), m.BusinessId); err != nil {
			return err
		}
		defer workflow.ReleaseBusinessPostingLock(tx.WithContext(ctx), m.BusinessId)

		handlerName := m.ReferenceType
		messageId := strconv.Itoa(m.ID)

		skip, err := workflow.BeginIdempotency(tx.WithContext(ctx), m.BusinessId, handlerName, messageId)
		if err != nil {
			return err
		}
		if skip {
			return nil
		}

		// IMPORTANT: do not call tx.Commit()/tx.Rollback() inside db.Transaction.
		// Returning error triggers rollback; returning nil commits.
		if err := ProcessWorkflow(tx.WithContext(ctx), logger, m); err != nil {
			_ = workflow.MarkIdempotencyFailed(tx.WithContext(ctx), m.BusinessId, handlerName, messageId, err)
			return err
		}
		if err := workflow.MarkIdempotencySucceeded(tx.WithContext(ctx), m.BusinessId, handlerName, messageId); err != nil {
			return err
		}
		return nil
	})
}

func ProcessWorkflow(tx *gorm.DB, logger *logrus.Logger, msg config.PubSubMessage) error {
	switch msg.ReferenceType {
	case string(models.StockReferenceTypeOrder):
		return workflow.ProcessOrderDeductionWorkflow(tx, logger, msg)
	case string(models.StockReferenceTypePurchaseOrder):
		return workflow.ProcessReceivingWorkflow(tx, logger, msg)
	case string(models.StockReferenceTypeTransfer):
		return workflow.ProcessTransferWorkflow(tx, logger, msg)
	}
	return nil
}
