package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

func datePtr(y int, m time.Month, day int) *time.Time {
	t := time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestBatchStatusForDate(t *testing.T) {
	today := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)

	cases := []struct {
		name      string
		expiry    *time.Time
		stored    BatchStatus
		remaining decimal.Decimal
		want      BatchStatus
	}{
		{"no expiry stays active", nil, BatchStatusActive, d("5"), BatchStatusActive},
		{"far expiry stays active", datePtr(2026, 6, 1), BatchStatusActive, d("5"), BatchStatusActive},
		{"within window is expiring", datePtr(2026, 4, 1), BatchStatusActive, d("5"), BatchStatusExpiring},
		{"window boundary is expiring", datePtr(2026, 4, 14), BatchStatusActive, d("5"), BatchStatusExpiring},
		{"expires today is expiring", datePtr(2026, 3, 15), BatchStatusActive, d("5"), BatchStatusExpiring},
		{"yesterday is expired", datePtr(2026, 3, 14), BatchStatusActive, d("5"), BatchStatusExpired},
		{"stale stored status ignored", datePtr(2026, 3, 1), BatchStatusActive, d("5"), BatchStatusExpired},
		{"disposed is terminal", datePtr(2026, 6, 1), BatchStatusDisposed, d("5"), BatchStatusDisposed},
		{"drained batch is disposed", datePtr(2026, 6, 1), BatchStatusActive, decimal.Zero, BatchStatusDisposed},
		{"drained no-expiry batch is disposed", nil, BatchStatusActive, decimal.Zero, BatchStatusDisposed},
	}
	for _, tc := range cases {
		got := BatchStatusForDate(tc.expiry, tc.stored, tc.remaining, today)
		if got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestIsConsumable(t *testing.T) {
	today := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	expiring := &Batch{Quantity: d("5"), ExpiryDate: datePtr(2026, 3, 20), Status: BatchStatusActive}
	if !expiring.IsConsumable(today) {
		t.Fatalf("expiring batch must remain consumable")
	}

	expired := &Batch{Quantity: d("5"), ExpiryDate: datePtr(2026, 3, 10), Status: BatchStatusActive}
	if expired.IsConsumable(today) {
		t.Fatalf("expired batch must not be consumable")
	}

	disposed := &Batch{Quantity: d("5"), Status: BatchStatusDisposed}
	if disposed.IsConsumable(today) {
		t.Fatalf("disposed batch must not be consumable")
	}

	empty := &Batch{Quantity: decimal.Zero, Status: BatchStatusActive}
	if empty.IsConsumable(today) {
		t.Fatalf("depleted batch must not be consumable")
	}
}

func TestPlanFIFOConsumptionDrainsInOrderAndSkipsExpired(t *testing.T) {
	today := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	// Callers hand batches over already FEFO-sorted; the expired lot in the
	// middle must be stepped over without contributing.
	batches := []*Batch{
		{ID: 1, ItemId: 9, BatchNumber: "RICE-20260301-1", Quantity: d("4"), UnitCost: d("10"), ExpiryDate: datePtr(2026, 3, 20)},
		{ID: 2, ItemId: 9, BatchNumber: "RICE-20260302-1", Quantity: d("6"), UnitCost: d("11"), ExpiryDate: datePtr(2026, 3, 10)},
		{ID: 3, ItemId: 9, BatchNumber: "RICE-20260305-1", Quantity: d("10"), UnitCost: d("12"), ExpiryDate: nil},
	}

	plan, err := PlanFIFOConsumption(batches, d("7"), today)
	if err != nil {
		t.Fatalf("PlanFIFOConsumption: %v", err)
	}
	if len(plan) != 2 {
		t.Fatalf("expected 2 consumptions, got %d", len(plan))
	}
	if plan[0].BatchId != 1 || !plan[0].Qty.Equal(d("4")) {
		t.Fatalf("first consumption should drain batch 1 fully, got %+v", plan[0])
	}
	if plan[1].BatchId != 3 || !plan[1].Qty.Equal(d("3")) {
		t.Fatalf("second consumption should take 3 from batch 3, got %+v", plan[1])
	}
	if !plan[1].UnitCost.Equal(d("12")) {
		t.Fatalf("consumption must carry the batch's own unit cost, got %s", plan[1].UnitCost)
	}
}

func TestPlanFIFOConsumptionReportsShortage(t *testing.T) {
	today := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	batches := []*Batch{
		{ID: 1, ItemId: 4, BatchNumber: "OIL-20260301-1", Quantity: d("2"), ExpiryDate: datePtr(2026, 3, 25)},
		{ID: 2, ItemId: 4, BatchNumber: "OIL-20260210-1", Quantity: d("5"), ExpiryDate: datePtr(2026, 3, 1)},
	}

	_, err := PlanFIFOConsumption(batches, d("6"), today)
	var shortage *utils.InsufficientBatchStockError
	if err == nil || !errors.As(err, &shortage) {
		t.Fatalf("expected InsufficientBatchStockError, got %v", err)
	}
	// The expired 5 units must not count toward availability.
	if !shortage.Available.Equal(d("2")) || !shortage.Required.Equal(d("6")) {
		t.Fatalf("shortage should report required 6 / available 2, got %+v", shortage)
	}
	if shortage.ItemId != 4 {
		t.Fatalf("shortage should carry the item id, got %d", shortage.ItemId)
	}
}

func TestPlanFIFOConsumptionRejectsNonPositiveRequired(t *testing.T) {
	today := time.Now().UTC()
	_, err := PlanFIFOConsumption(nil, decimal.Zero, today)
	var invalidQty *utils.InvalidQuantityError
	if err == nil || !errors.As(err, &invalidQty) {
		t.Fatalf("expected InvalidQuantityError, got %v", err)
	}
}
