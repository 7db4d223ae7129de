package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ContainerType is the packaging a material is purchased in.
type ContainerType string

const (
	ContainerPackage ContainerType = "package"
	ContainerRoll    ContainerType = "roll"
)

func (c ContainerType) Valid() bool {
	return c == ContainerPackage || c == ContainerRoll
}

// BaseUnit is the unit stock is tracked in.
type BaseUnit string

const (
	UnitUnits       BaseUnit = "units"
	UnitCentimeters BaseUnit = "centimeters"
)

func (u BaseUnit) Valid() bool {
	return u == UnitUnits || u == UnitCentimeters
}

// Material is a raw material. StockOnHand is written only by the inventory ledger.
type Material struct {
	ID               int
	Code             string
	Name             string
	Category         string
	ContainerType    ContainerType
	BaseUnit         BaseUnit
	ConversionFactor int // base units per container
	StockOnHand      int64
	PurchasePrice    decimal.Decimal // per container
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UnitCost is the cost of one base unit, derived from the container price.
func (m Material) UnitCost() decimal.Decimal {
	return UnitCost(m.PurchasePrice, m.ConversionFactor)
}

// UnitCost divides a container price by its conversion factor, rounded to 4 decimals.
func UnitCost(purchasePrice decimal.Decimal, conversionFactor int) decimal.Decimal {
	if conversionFactor <= 0 {
		return decimal.Zero
	}
	return purchasePrice.DivRound(decimal.NewFromInt(int64(conversionFactor)), 4)
}

// MaterialInput holds the fields for creating a material.
// InitialStock, when positive, is booked as an entry movement.
type MaterialInput struct {
	Code             string
	Name             string
	Category         string
	ContainerType    ContainerType
	BaseUnit         BaseUnit
	ConversionFactor int
	PurchasePrice    decimal.Decimal
	InitialStock     int64
	Actor            string
}

func (in *MaterialInput) Normalize() {
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	in.Name = strings.TrimSpace(in.Name)
	in.Category = strings.TrimSpace(in.Category)
	in.Actor = strings.TrimSpace(in.Actor)
}

func (in MaterialInput) Validate() error {
	if in.Code == "" {
		return validation("material code is required")
	}
	if in.Name == "" {
		return validation("material name is required")
	}
	if !in.ContainerType.Valid() {
		return validation("container type must be package or roll, got %q", in.ContainerType)
	}
	if !in.BaseUnit.Valid() {
		return validation("base unit must be units or centimeters, got %q", in.BaseUnit)
	}
	if in.ConversionFactor <= 0 {
		return validation("conversion factor must be a positive integer, got %d", in.ConversionFactor)
	}
	if in.PurchasePrice.IsNegative() {
		return validation("purchase price cannot be negative, got %s", in.PurchasePrice)
	}
	if in.InitialStock < 0 {
		return validation("initial stock cannot be negative, got %d", in.InitialStock)
	}
	return nil
}

// MaterialUpdate carries optional changes; nil fields are left untouched.
type MaterialUpdate struct {
	Name             *string
	Category         *string
	ContainerType    *ContainerType
	BaseUnit         *BaseUnit
	ConversionFactor *int
	PurchasePrice    *decimal.Decimal
}

// Apply returns m with the update applied, validating each changed field.
func (u MaterialUpdate) Apply(m Material) (Material, error) {
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return m, validation("material name cannot be empty")
		}
		m.Name = name
	}
	if u.Category != nil {
		m.Category = strings.TrimSpace(*u.Category)
	}
	if u.ContainerType != nil {
		if !u.ContainerType.Valid() {
			return m, validation("container type must be package or roll, got %q", *u.ContainerType)
		}
		m.ContainerType = *u.ContainerType
	}
	if u.BaseUnit != nil {
		if !u.BaseUnit.Valid() {
			return m, validation("base unit must be units or centimeters, got %q", *u.BaseUnit)
		}
		m.BaseUnit = *u.BaseUnit
	}
	if u.ConversionFactor != nil {
		if *u.ConversionFactor <= 0 {
			return m, validation("conversion factor must be a positive integer, got %d", *u.ConversionFactor)
		}
		m.ConversionFactor = *u.ConversionFactor
	}
	if u.PurchasePrice != nil {
		if u.PurchasePrice.IsNegative() {
			return m, validation("purchase price cannot be negative, got %s", *u.PurchasePrice)
		}
		m.PurchasePrice = *u.PurchasePrice
	}
	return m, nil
}

// MaterialFilter narrows List results. The zero value lists active materials.
type MaterialFilter struct {
	Category        string
	Search          string // case-insensitive match on code or name
	IncludeInactive bool
}
