package models

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestComputeMovingAverageCostFreshItemAdoptsIncomingCost(t *testing.T) {
	got := ComputeMovingAverageCost(decimal.Zero, decimal.Zero, d("10"), d("25.5"))
	if !got.Equal(d("25.5")) {
		t.Fatalf("expected 25.5, got %s", got)
	}
}

func TestComputeMovingAverageCostBlendsReceipt(t *testing.T) {
	// 10 on hand at 10.00, receive 5 at 20.00:
	// (10*10 + 5*20) / 15 = 13.33...
	got := ComputeMovingAverageCost(d("10"), d("10"), d("5"), d("20"))
	if got.Round(2).String() != "13.33" {
		t.Fatalf("expected 13.33, got %s", got.Round(2))
	}
}

func TestComputeMovingAverageCostZeroCostStockAdoptsIncoming(t *testing.T) {
	// Stock exists but was never costed (legacy rows): adopt the receipt cost
	// instead of diluting it toward zero.
	got := ComputeMovingAverageCost(d("7"), decimal.Zero, d("3"), d("12"))
	if !got.Equal(d("12")) {
		t.Fatalf("expected 12, got %s", got)
	}
}

func TestNeedsRestockUsesParLevelForUtilityItems(t *testing.T) {
	utility := &InventoryItem{
		Kind:         ItemKindUtility,
		Quantity:     d("8"),
		ParLevel:     d("10"),
		MinimumStock: d("2"),
	}
	if !utility.NeedsRestock() {
		t.Fatalf("utility item below par level should need restock")
	}

	consumable := &InventoryItem{
		Kind:         ItemKindConsumable,
		Quantity:     d("8"),
		ParLevel:     d("10"),
		MinimumStock: d("2"),
	}
	if consumable.NeedsRestock() {
		t.Fatalf("consumable item above minimum stock should not need restock")
	}
}

func TestAdjustStockInputValidation(t *testing.T) {
	item := &InventoryItem{
		ID:              1,
		BusinessId:      "biz-1",
		Name:            "Rice",
		Quantity:        d("5"),
		AverageUnitCost: d("2"),
	}

	// Zero delta is meaningless.
	_, err := AdjustStock(nil, item, AdjustStockInput{
		Delta:     decimal.Zero,
		EntryType: LedgerEntryTypeAdjustment,
	})
	var invalidQty *utils.InvalidQuantityError
	if err == nil {
		t.Fatalf("expected error for zero delta")
	}
	if !errors.As(err, &invalidQty) {
		t.Fatalf("expected InvalidQuantityError, got %T: %v", err, err)
	}

	// Receipts must be positive.
	_, err = AdjustStock(nil, item, AdjustStockInput{
		Delta:     d("-3"),
		EntryType: LedgerEntryTypeReceipt,
		UnitCost:  d("4"),
	})
	if err == nil || !errors.As(err, &invalidQty) {
		t.Fatalf("expected InvalidQuantityError for negative receipt, got %v", err)
	}

	// Deductions below zero are rejected before any write.
	_, err = AdjustStock(nil, item, AdjustStockInput{
		Delta:     d("-6"),
		EntryType: LedgerEntryTypeUsage,
	})
	var insufficient *utils.InsufficientStockError
	if err == nil || !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if !insufficient.Available.Equal(d("5")) || !insufficient.Required.Equal(d("6")) {
		t.Fatalf("shortage should report required 6 / available 5, got %+v", insufficient)
	}
}
