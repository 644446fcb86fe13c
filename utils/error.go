package utils

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrConcurrencyContention signals that a posting lock could not be acquired
// promptly. Nothing was mutated; callers may retry.
var ErrConcurrencyContention = errors.New("concurrency contention, retry later")

// InsufficientStockError is returned when a negative adjustment would push an
// item's quantity below zero.
type InsufficientStockError struct {
	ItemId    int
	ItemName  string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %d (%s): required %s, available %s",
		e.ItemId, e.ItemName, e.Required, e.Available)
}

// InsufficientBatchStockError is returned when the total remaining quantity
// across consumable batches cannot satisfy a FIFO consumption request.
type InsufficientBatchStockError struct {
	ItemId    int
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBatchStockError) Error() string {
	return fmt.Sprintf("insufficient batch stock for item %d: required %s, available %s",
		e.ItemId, e.Required, e.Available)
}

// InvalidQuantityError is returned for zero/negative receipt quantities and
// other nonsense deltas.
type InvalidQuantityError struct {
	Qty    decimal.Decimal
	Reason string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity %s: %s", e.Qty, e.Reason)
}

// UnitMismatchError is returned when a transfer has no declared conversion
// between the source and destination measurement units.
type UnitMismatchError struct {
	FromUnit string
	ToUnit   string
}

func (e *UnitMismatchError) Error() string {
	return fmt.Sprintf("no unit conversion from %s to %s", e.FromUnit, e.ToUnit)
}

// ValidationError is returned for malformed inputs (e.g. a consumable receipt
// line without an expiry date).
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}
