package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/models"
	"bitbucket.org/mmdatafocus/hotel_backend/utils"
	"bitbucket.org/mmdatafocus/hotel_backend/workflow"
)

// worker is the subscriber-only binary: it consumes inventory events from
// Pub/Sub and posts stock, without serving the HTTP API. Deploy it when the
// API and the posting workers must scale independently.

var (
	businessMutexMap = make(map[string]*sync.Mutex)
	globalMutex      = &sync.Mutex{}
)

func main() {
	logger := config.GetLogger()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		logger.Fatal("database not initialized")
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	client, err := config.GetClient(sigCtx)
	if err != nil {
		logger.Fatal("pubsub client: " + err.Error())
	}
	topic, err := config.CreateTopicIfNotExists(client, os.Getenv("PUBSUB_TOPIC"))
	if err != nil {
		logger.Fatal("pubsub topic: " + err.Error())
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, os.Getenv("PUBSUB_SUBSCRIPTION"), topic)
	if err != nil {
		logger.Fatal("pubsub subscription: " + err.Error())
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	callback := func(ctx context.Context, msg *pubsub.Message) {
		m := config.PubSubMessage{}
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			config.LogError(logger, "worker", "main", "Unmarshaling pubsub message", msg.Data, err)
			return
		}

		globalMutex.Lock()
		mutex, exists := businessMutexMap[m.BusinessId]
		if !exists {
			mutex = &sync.Mutex{}
			businessMutexMap[m.BusinessId] = mutex
		}
		globalMutex.Unlock()

		mutex.Lock()
		defer mutex.Unlock()

		ctx = context.WithValue(ctx, utils.ContextKeyBusinessId, m.BusinessId)
		ctx = context.WithValue(ctx, utils.ContextKeyUserId, 0)
		ctx = context.WithValue(ctx, utils.ContextKeyUserName, "System")
		ctx = utils.SetCorrelationIdInContext(ctx, m.CorrelationId)
		if err := processMessage(ctx, logger, m); err != nil {
			logger.WithFields(logrus.Fields{
				"field":          "Worker",
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

	logger.Info("worker started; receiving inventory events")
	if err := sub.Receive(sigCtx, callback); err != nil {
		config.LogError(logger, "worker", "main", "Failed to receive messages", nil, err)
	}
}

func processMessage(ctx context.Context, logger *logrus.Logger, m config.PubSubMessage) error {
	db := config.GetDB()
	return db.Transaction(func(tx *gorm.DB) error {
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

		if err := processWorkflow(tx.WithContext(ctx), logger, m); err != nil {
			_ = workflow.MarkIdempotencyFailed(tx.WithContext(ctx), m.BusinessId, handlerName, messageId, err)
			return err
		}
		return workflow.MarkIdempotencySucceeded(tx.WithContext(ctx), m.BusinessId, handlerName, messageId)
	})
}

func processWorkflow(tx *gorm.DB, logger *logrus.Logger, msg config.PubSubMessage) error {
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
