package core_test

import (
	"testing"
	"time"

	"bow-workshop/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestUnitCost(t *testing.T) {
	m := core.Material{PurchasePrice: dec("25.00"), ConversionFactor: 100}
	assert.True(t, m.UnitCost().Equal(dec("0.25")), "got %s", m.UnitCost())

	// unit_cost × conversion_factor recovers the purchase price within 4-decimal rounding.
	for _, tc := range []struct {
		price  string
		factor int
	}{
		{"25.00", 100}, {"10.00", 3}, {"7.99", 250}, {"0.00", 1}, {"1234.56", 7},
	} {
		cost := core.UnitCost(dec(tc.price), tc.factor)
		back := cost.Mul(decimal.NewFromInt(int64(tc.factor)))
		tolerance := dec("0.00005").Mul(decimal.NewFromInt(int64(tc.factor)))
		assert.True(t, back.Sub(dec(tc.price)).Abs().LessThanOrEqual(tolerance),
			"%s / %d: %s × %d = %s", tc.price, tc.factor, cost, tc.factor, back)
	}

	assert.True(t, core.UnitCost(dec("5"), 0).IsZero())
}

func TestBow_ProductionCostAndMargin(t *testing.T) {
	recipe := []core.RecipeRow{{MaterialID: 1, QuantityPerBow: 10, MaterialUnitCost: dec("0.25")}}

	single := core.Bow{SaleMode: core.SaleSingle, SalePrice: dec("5.00"), Recipe: recipe}
	assert.True(t, single.ProductionCost().Equal(dec("2.50")))
	assert.True(t, single.UnitMargin().Equal(dec("2.50")))

	pair := core.Bow{SaleMode: core.SalePair, SalePrice: dec("10.00"), Recipe: recipe}
	assert.True(t, pair.ProductionCost().Equal(dec("2.50")))
	assert.True(t, pair.UnitMargin().Equal(dec("5.00")), "pair margin subtracts two bows, got %s", pair.UnitMargin())

	empty := core.Bow{SaleMode: core.SaleSingle, SalePrice: dec("3")}
	assert.False(t, empty.HasRecipe())
	assert.True(t, empty.ProductionCost().IsZero())
}

func TestComputeRequirements_PairDoesNotDoubleConsumption(t *testing.T) {
	recipes := map[int][]core.RecipeRow{
		1: {{MaterialID: 10, QuantityPerBow: 10}},
		2: {{MaterialID: 10, QuantityPerBow: 10}, {MaterialID: 11, QuantityPerBow: 3}},
	}
	planned := []core.PlannedBow{
		{BowID: 1, BowCode: "B1", SaleMode: core.SaleSingle, PlannedCount: 8},
		{BowID: 2, BowCode: "B2", SaleMode: core.SalePair, PlannedCount: 3},
	}

	required, missing := core.ComputeRequirements(planned, recipes)
	assert.Empty(t, missing)
	assert.Equal(t, map[int]int64{10: 80 + 30, 11: 9}, required)

	assert.Equal(t, int64(8), planned[0].EffectiveUnits())
	assert.Equal(t, int64(6), planned[1].EffectiveUnits())
}

func TestComputeRequirements_MissingRecipe(t *testing.T) {
	recipes := map[int][]core.RecipeRow{1: {{MaterialID: 10, QuantityPerBow: 1}}}
	planned := []core.PlannedBow{
		{BowID: 3, BowCode: "ZED", PlannedCount: 1},
		{BowID: 1, BowCode: "B1", PlannedCount: 2},
		{BowID: 2, BowCode: "ALPHA", PlannedCount: 0},
	}
	_, missing := core.ComputeRequirements(planned, recipes)
	assert.Equal(t, []string{"ALPHA", "ZED"}, missing)
}

func TestBuildSummary(t *testing.T) {
	materials := map[int]core.Material{
		10: {ID: 10, Code: "M1", ConversionFactor: 100, StockOnHand: 100, PurchasePrice: dec("25.00")},
		11: {ID: 11, Code: "A2", ConversionFactor: 50, StockOnHand: 4, PurchasePrice: dec("8.00")},
	}
	required := map[int]int64{10: 80, 11: 9, 12: 0}

	first := core.BuildSummary(required, materials)
	require.Len(t, first, 2)
	assert.Equal(t, "A2", first[0].MaterialCode)
	assert.Equal(t, int64(9), first[0].Required)
	assert.Equal(t, int64(4), first[0].AvailableAtCreation)
	assert.Equal(t, int64(5), first[0].Shortfall)
	assert.Equal(t, "M1", first[1].MaterialCode)
	assert.Equal(t, int64(80), first[1].Required)
	assert.Equal(t, int64(0), first[1].Shortfall)

	// Same inputs, same rows.
	assert.Equal(t, first, core.BuildSummary(required, materials))
}

func TestBuildShoppingList(t *testing.T) {
	summary := []core.MaterialSummary{
		{MaterialCode: "A2", MaterialName: "Ribbon", ConversionFactor: 50, PurchasePrice: dec("8.00"), Shortfall: 51},
		{MaterialCode: "M1", ConversionFactor: 100, PurchasePrice: dec("25.00"), Shortfall: 0},
		{MaterialCode: "M3", ConversionFactor: 10, PurchasePrice: dec("1.10"), Shortfall: 10},
	}
	items := core.BuildShoppingList(summary)
	require.Len(t, items, 2)

	assert.Equal(t, "A2", items[0].MaterialCode)
	assert.Equal(t, int64(2), items[0].ContainersNeeded)
	assert.True(t, items[0].EstimatedCost.Equal(dec("16.00")))

	assert.Equal(t, "M3", items[1].MaterialCode)
	assert.Equal(t, int64(1), items[1].ContainersNeeded)
	assert.True(t, items[1].EstimatedCost.Equal(dec("1.10")))

	assert.Equal(t, int64(100), core.SuggestedPurchase(summary[0]))
}

func TestContainersNeeded(t *testing.T) {
	assert.Equal(t, int64(0), core.ContainersNeeded(0, 10))
	assert.Equal(t, int64(1), core.ContainersNeeded(1, 10))
	assert.Equal(t, int64(1), core.ContainersNeeded(10, 10))
	assert.Equal(t, int64(2), core.ContainersNeeded(11, 10))
	assert.Equal(t, int64(0), core.ContainersNeeded(5, 0))
}

func TestRestockPrice(t *testing.T) {
	paid := dec("60.00")
	price, ok := core.RestockPrice(core.MaterialSummary{ConversionFactor: 100, Purchased: 200, RealPurchasePrice: &paid})
	require.True(t, ok)
	assert.True(t, price.Equal(dec("30.00")), "got %s", price)

	_, ok = core.RestockPrice(core.MaterialSummary{ConversionFactor: 100, Purchased: 200})
	assert.False(t, ok)
	_, ok = core.RestockPrice(core.MaterialSummary{ConversionFactor: 100, RealPurchasePrice: &paid})
	assert.False(t, ok)
}

func TestShortages(t *testing.T) {
	materials := map[int]core.Material{
		1: {Code: "M1", StockOnHand: 20},
		2: {Code: "M2", StockOnHand: 5},
	}
	got := core.Shortages(map[int]int64{1: 30, 2: 5}, materials)
	assert.Equal(t, []core.StockShortage{{MaterialCode: "M1", Required: 30, Available: 20}}, got)
}

func TestRecipeDrift(t *testing.T) {
	materials := map[int]core.Material{1: {Code: "RIB"}, 2: {Code: "CLIP"}, 3: {Code: "GLUE"}}
	summary := []core.MaterialSummary{
		{MaterialID: 1, MaterialCode: "RIB", Required: 40},
		{MaterialID: 2, MaterialCode: "CLIP", Required: 4},
	}

	assert.Empty(t, core.RecipeDrift(map[int]int64{1: 40, 2: 4}, summary, materials))
	assert.Empty(t, core.RecipeDrift(map[int]int64{1: 40, 2: 4, 3: 0}, summary, materials))
	assert.Equal(t, []string{"RIB"}, core.RecipeDrift(map[int]int64{1: 48, 2: 4}, summary, materials))
	assert.Equal(t, []string{"CLIP", "GLUE"}, core.RecipeDrift(map[int]int64{1: 40, 3: 2}, summary, materials))
}

func TestNewSaleRecord(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	single := core.PlannedBow{ListID: 1, BowID: 1, BowCode: "B1", SaleMode: core.SaleSingle,
		SalePrice: dec("5.00"), PlannedCount: 8, ProducedCount: 8}
	rec := core.NewSaleRecord(single, dec("2.50"), "ana", at)
	assert.Equal(t, 8, rec.QuantitySold)
	assert.True(t, rec.TotalRevenue.Equal(dec("40.00")))
	assert.True(t, rec.TotalProfit.Equal(dec("20.00")))
	assert.True(t, rec.UnitCost.Equal(dec("2.50")))
	assert.Equal(t, at, rec.CreatedAt)

	pair := core.PlannedBow{BowCode: "B2", SaleMode: core.SalePair, SalePrice: dec("10.00"), PlannedCount: 3, ProducedCount: 3}
	rec = core.NewSaleRecord(pair, dec("2.50"), "ana", at)
	assert.True(t, rec.TotalRevenue.Equal(dec("30.00")))
	assert.True(t, rec.TotalProfit.Equal(dec("15.00")), "pair profit costs two bows per unit, got %s", rec.TotalProfit)
	assert.Equal(t, core.SalePair, rec.SaleMode)
}

func TestSaleConceptRoundTrip(t *testing.T) {
	concept := core.SaleConcept("Spring fair")
	name, ok := core.ParseListName(concept)
	require.True(t, ok)
	assert.Equal(t, "Spring fair", name)

	name, ok = core.ParseListName("Venta de producción - List:  Navidad 2024 ")
	require.True(t, ok)
	assert.Equal(t, "Navidad 2024", name)

	_, ok = core.ParseListName("Manual sale at market")
	assert.False(t, ok)
	_, ok = core.ParseListName("Sale of production — List:   ")
	assert.False(t, ok)
}
