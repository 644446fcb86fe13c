package models

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

func TestConversionFactor(t *testing.T) {
	identity, err := ConversionFactor(UnitKilogram, UnitKilogram)
	if err != nil || !identity.Equal(OneToOneFactor) {
		t.Fatalf("identity conversion: got %s, %v", identity, err)
	}

	kgToG, err := ConversionFactor(UnitKilogram, UnitGram)
	if err != nil || !kgToG.Equal(d("1000")) {
		t.Fatalf("kg->g: got %s, %v", kgToG, err)
	}

	lToMl, err := ConversionFactor(UnitLiter, UnitMilliliter)
	if err != nil || !lToMl.Equal(d("1000")) {
		t.Fatalf("l->ml: got %s, %v", lToMl, err)
	}

	_, err = ConversionFactor(UnitKilogram, UnitLiter)
	var mismatch *utils.UnitMismatchError
	if err == nil || !errors.As(err, &mismatch) {
		t.Fatalf("kg->l should be a unit mismatch, got %v", err)
	}

	// Conversions are directional: g->kg is not declared.
	_, err = ConversionFactor(UnitGram, UnitKilogram)
	if err == nil || !errors.As(err, &mismatch) {
		t.Fatalf("g->kg should be a unit mismatch, got %v", err)
	}
}

func TestTransferConversionConservesValue(t *testing.T) {
	// Store carries rice in kg at 45000 per kg; kitchen tracks grams.
	// Moving 2 kg must arrive as 2000 g at 45 per g, leaving the total
	// stock value unchanged on both sides of the pair.
	factor, err := ConversionFactor(UnitKilogram, UnitGram)
	if err != nil {
		t.Fatalf("ConversionFactor: %v", err)
	}

	qty := d("2")
	sourceUnitCost := d("45000")

	destQty := qty.Mul(factor)
	destUnitCost := sourceUnitCost.Div(factor)

	if !destQty.Equal(d("2000")) {
		t.Fatalf("expected 2000 g, got %s", destQty)
	}
	if !destUnitCost.Equal(d("45")) {
		t.Fatalf("expected unit cost 45, got %s", destUnitCost)
	}

	sourceValue := qty.Mul(sourceUnitCost)
	destValue := destQty.Mul(destUnitCost)
	if !sourceValue.Equal(destValue) {
		t.Fatalf("value not conserved: %s vs %s", sourceValue, destValue)
	}
}
