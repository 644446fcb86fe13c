package workflow

import (
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/hotel_backend/models"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// idempotencyAction is what a redelivered message does with the existing row.
type idempotencyAction int

const (
	idempotencySkip idempotencyAction = iota
	idempotencyRetryLater
	idempotencyReclaim
)

// staleClaimAge is how long a STARTED row may sit before a redelivery can
// reclaim it. Workers that crash mid-posting never mark their row FAILED;
// without the age cutoff the message would be stuck forever.
const staleClaimAge = 5 * time.Minute

// resolveDuplicateKey decides the redelivery outcome. Pure.
func resolveDuplicateKey(existing models.IdempotencyKey, now time.Time) idempotencyAction {
	switch existing.Status {
	case models.IdempotencyStatusSucceeded:
		return idempotencySkip
	case models.IdempotencyStatusStarted:
		// Another worker is likely still processing; ask the broker to retry.
		if now.Sub(existing.UpdatedAt) < staleClaimAge {
			return idempotencyRetryLater
		}
		return idempotencyReclaim
	default:
		// FAILED: the previous attempt finished and lost; run again.
		return idempotencyReclaim
	}
}

// BeginIdempotency inserts STARTED. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
func BeginIdempotency(tx *gorm.DB, businessId, handlerName, messageId string) (skip bool, err error) {
	key := models.IdempotencyKey{
		BusinessId:  businessId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := tx.Where("business_id = ? AND handler_name = ? AND message_id = ?", businessId, handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}

	switch resolveDuplicateKey(existing, time.Now()) {
	case idempotencySkip:
		return true, nil
	case idempotencyRetryLater:
		return false, ErrIdempotencyInProgress
	default:
		// Reclaim the row and process again.
		return false, tx.Model(&models.IdempotencyKey{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{"status": models.IdempotencyStatusStarted, "last_error": nil}).Error
	}
}

func MarkIdempotencySucceeded(tx *gorm.DB, businessId, handlerName, messageId string) error {
	return tx.Model(&models.IdempotencyKey{}).
		Where("business_id = ? AND handler_name = ? AND message_id = ?", businessId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func MarkIdempotencyFailed(tx *gorm.DB, businessId, handlerName, messageId string, err error) error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return tx.Model(&models.IdempotencyKey{}).
		Where("business_id = ? AND handler_name = ? AND message_id = ?", businessId, handlerName, messageId).
		Updates(map[string]interface{}{"status": models.IdempotencyStatusFailed, "last_error": &msg}).Error
}
