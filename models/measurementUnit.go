package models

import (
	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/hotel_backend/utils"
)

// MeasurementUnit is an item's unit of measure.
type MeasurementUnit string

const (
	UnitPiece      MeasurementUnit = "pc"
	UnitKilogram   MeasurementUnit = "kg"
	UnitGram       MeasurementUnit = "g"
	UnitLiter      MeasurementUnit = "l"
	UnitMilliliter MeasurementUnit = "ml"
	UnitBottle     MeasurementUnit = "btl"
	UnitCan        MeasurementUnit = "can"
	UnitPack       MeasurementUnit = "pk"
)

// OneToOneFactor is the identity conversion.
var OneToOneFactor = decimal.NewFromInt(1)

// unitConversions is the declared conversion table for cross-location
// transfers. Identity conversions are implicit; anything else fails.
var unitConversions = map[MeasurementUnit]map[MeasurementUnit]decimal.Decimal{
	UnitKilogram: {UnitGram: decimal.NewFromInt(1000)},
	UnitLiter:    {UnitMilliliter: decimal.NewFromInt(1000)},
}

// ConversionFactor returns how many destination units one source unit
// becomes. Undeclared pairs return UnitMismatchError.
func ConversionFactor(from MeasurementUnit, to MeasurementUnit) (decimal.Decimal, error) {
	if from == to {
		return OneToOneFactor, nil
	}
	if factors, ok := unitConversions[from]; ok {
		if f, ok := factors[to]; ok {
			return f, nil
		}
	}
	return decimal.Decimal{}, &utils.UnitMismatchError{FromUnit: string(from), ToUnit: string(to)}
}
