package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SaleMode is the unit a bow is sold in.
type SaleMode string

const (
	SaleSingle SaleMode = "single"
	SalePair   SaleMode = "pair"
)

func (m SaleMode) Valid() bool {
	return m == SaleSingle || m == SalePair
}

// Multiplier is the number of bows one sale unit represents.
func (m SaleMode) Multiplier() int64 {
	if m == SalePair {
		return 2
	}
	return 1
}

// Bow is a finished product type. Recipe is populated by GetBow and ListBows.
type Bow struct {
	ID        int
	Code      string
	Name      string
	SaleMode  SaleMode
	SalePrice decimal.Decimal // per sale unit
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	Recipe    []RecipeRow
}

// RecipeRow is one bill-of-materials entry, joined with the material it consumes.
type RecipeRow struct {
	ID               int
	BowID            int
	MaterialID       int
	MaterialCode     string
	MaterialName     string
	BaseUnit         BaseUnit
	QuantityPerBow   int64
	MaterialUnitCost decimal.Decimal
	MaterialActive   bool
}

// ProductionCost is the material cost of one assembled bow.
func (b Bow) ProductionCost() decimal.Decimal {
	return ProductionCost(b.Recipe)
}

// UnitMargin is the sale price of one sale unit minus the cost of the bows it contains.
func (b Bow) UnitMargin() decimal.Decimal {
	return UnitMargin(b.SalePrice, b.ProductionCost(), b.SaleMode)
}

// HasRecipe reports whether the bow can be planned.
func (b Bow) HasRecipe() bool {
	return len(b.Recipe) > 0
}

func ProductionCost(recipe []RecipeRow) decimal.Decimal {
	total := decimal.Zero
	for _, r := range recipe {
		total = total.Add(r.MaterialUnitCost.Mul(decimal.NewFromInt(r.QuantityPerBow)))
	}
	return total
}

func UnitMargin(salePrice, productionCost decimal.Decimal, mode SaleMode) decimal.Decimal {
	return salePrice.Sub(productionCost.Mul(decimal.NewFromInt(mode.Multiplier())))
}

// BowInput holds the fields for creating a bow.
type BowInput struct {
	Code      string
	Name      string
	SaleMode  SaleMode
	SalePrice decimal.Decimal
}

func (in *BowInput) Normalize() {
	in.Code = strings.ToUpper(strings.TrimSpace(in.Code))
	in.Name = strings.TrimSpace(in.Name)
}

func (in BowInput) Validate() error {
	if in.Code == "" {
		return validation("bow code is required")
	}
	if in.Name == "" {
		return validation("bow name is required")
	}
	if !in.SaleMode.Valid() {
		return validation("sale mode must be single or pair, got %q", in.SaleMode)
	}
	if in.SalePrice.IsNegative() {
		return validation("sale price cannot be negative, got %s", in.SalePrice)
	}
	return nil
}

// BowUpdate carries optional changes; nil fields are left untouched.
type BowUpdate struct {
	Name      *string
	SaleMode  *SaleMode
	SalePrice *decimal.Decimal
}

func (u BowUpdate) Apply(b Bow) (Bow, error) {
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return b, validation("bow name cannot be empty")
		}
		b.Name = name
	}
	if u.SaleMode != nil {
		if !u.SaleMode.Valid() {
			return b, validation("sale mode must be single or pair, got %q", *u.SaleMode)
		}
		b.SaleMode = *u.SaleMode
	}
	if u.SalePrice != nil {
		if u.SalePrice.IsNegative() {
			return b, validation("sale price cannot be negative, got %s", *u.SalePrice)
		}
		b.SalePrice = *u.SalePrice
	}
	return b, nil
}
