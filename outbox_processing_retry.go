package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"bitbucket.org/mmdatafocus/hotel_backend/models"
	"bitbucket.org/mmdatafocus/hotel_backend/workflow"
)

type outboxProcessRetryConfig struct {
	maxAttempts int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

func getOutboxProcessRetryConfig() outboxProcessRetryConfig {
	cfg := outboxProcessRetryConfig{
		maxAttempts: 10,
		baseBackoff: 5 * time.Second,
		maxBackoff:  10 * time.Minute,
	}

	if v := os.Getenv("OUTBOX_PROCESS_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxAttempts = n
		}
	}
	if v := os.Getenv("OUTBOX_PROCESS_BASE_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.baseBackoff = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("OUTBOX_PROCESS_MAX_BACKOFF_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.maxBackoff = time.Duration(n) * time.Second
		}
	}

	return cfg
}

func outboxProcessBackoff(attempt int, cfg outboxProcessRetryConfig) time.Duration {
	if attempt <= 0 {
		return cfg.baseBackoff
	}
	// base * 2^(attempt-1), capped.
	exp := float64(attempt - 1)
	delay := time.Duration(float64(cfg.baseBackoff) * math.Pow(2, exp))
	if delay > cfg.maxBackoff {
		return cfg.maxBackoff
	}
	return delay
}

// markOutboxProcessFailure schedules the next processing attempt, or goes
// terminal after maxAttempts so a poison event cannot loop the poller
// forever. Terminal rows keep the error text and fail the referenced
// document if it is still PENDING.
func markOutboxProcessFailure(ctx context.Context, logger *logrus.Logger, rec models.InventoryEventRecord, procErr error) {
	if rec.ID <= 0 {
		return
	}

	cfg := getOutboxProcessRetryConfig()
	now := time.Now().UTC()
	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
	}

	db := config.GetDB()
	attempts := rec.ProcessAttempts + 1

	if attempts >= cfg.maxAttempts {
		errMsg = fmt.Sprintf("max process attempts exceeded (%d): %s", cfg.maxAttempts, errMsg)
		_ = db.WithContext(ctx).Model(&models.InventoryEventRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"is_processed":         true,
				"processed_at":         &now,
				"last_process_error":   &errMsg,
				"process_attempts":     attempts,
				"next_process_attempt": nil,
				"locked_at":            nil,
				"locked_by":            nil,
			}).Error
		workflow.FailDeadReference(ctx, db, logger, rec)

		if logger != nil {
			logger.WithFields(logrus.Fields{
				"field":            "OutboxProcessing",
				"business_id":      rec.BusinessId,
				"reference_type":   rec.ReferenceType,
				"reference_id":     rec.ReferenceId,
				"record_id":        rec.ID,
				"process_attempts": attempts,
			}).Error("outbox processing went terminal: " + errMsg)
		}
		return
	}

	next := now.Add(outboxProcessBackoff(attempts, cfg))
	_ = db.WithContext(ctx).Model(&models.InventoryEventRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"last_process_error":   &errMsg,
			"process_attempts":     attempts,
			"next_process_attempt": &next,
			"locked_at":            nil,
			"locked_by":            nil,
		}).Error

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":            "OutboxProcessing",
			"business_id":      rec.BusinessId,
			"reference_type":   rec.ReferenceType,
			"reference_id":     rec.ReferenceId,
			"record_id":        rec.ID,
			"process_attempts": attempts,
		}).Error("outbox processing failed: " + errMsg)
	}
}

// markOutboxProcessSuccess completes the row after the worker handled it.
// The is_processed guard keeps a permanent-failure note written by the
// handler itself from being overwritten.
func markOutboxProcessSuccess(ctx context.Context, rec models.InventoryEventRecord) {
	if rec.ID <= 0 {
		return
	}
	now := time.Now().UTC()
	db := config.GetDB()

	_ = db.WithContext(ctx).Model(&models.InventoryEventRecord{}).
		Where("id = ? AND is_processed = 0", rec.ID).
		Updates(map[string]interface{}{
			"is_processed":         true,
			"processed_at":         &now,
			"next_process_attempt": nil,
		}).Error
	_ = db.WithContext(ctx).Model(&models.InventoryEventRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"locked_at": nil,
			"locked_by": nil,
		}).Error
}
