package utils

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/hotel_backend/config"
	"github.com/go-playground/validator/v10"
)

func NewTrue() *bool {
	b := true
	return &b
}

func NewFalse() *bool {
	b := false
	return &b
}

// ValidateUnique fails if another row of T (excluding id) already uses the value.
func ValidateUnique[T any](ctx context.Context, businessId string, field string, value string, id int) error {
	db := config.GetDB()
	var count int64
	var model T
	dbCtx := db.WithContext(ctx).Model(&model).
		Where("business_id = ? AND "+field+" = ?", businessId, value)
	if id > 0 {
		dbCtx = dbCtx.Where("id != ?", id)
	}
	if err := dbCtx.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%s already exists", field)
	}
	return nil
}

func ProcessValidationErrors(err error) map[string]string {

	validationErrors := err.(validator.ValidationErrors)

	errorResponse := make(map[string]string)

	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}

	return errorResponse
}

// ConvertToDate truncates a timestamp to midnight in the business timezone,
// returned as UTC. Ledger stock dates are day-granular.
func ConvertToDate(t time.Time, timezone string) (time.Time, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Time{}, err
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC), nil
}
