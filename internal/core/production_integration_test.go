package core_test

import (
	"errors"
	"sync"
	"testing"

	"bow-workshop/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduction_SeedScenario(t *testing.T) {
	h := setupTestDB(t)

	// 1. Material with an entry of 100.
	m1 := h.material(t, "M1", 100, "25.00", 0)
	assert.True(t, m1.UnitCost().Equal(dec("0.25")))
	mv, err := h.inventory.Record(h.ctx, core.MovementInput{MaterialCode: "M1", Kind: core.MovementEntry, Quantity: 100, Actor: "tester"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), mv.Quantity)
	assert.Equal(t, int64(100), h.stock(t, "M1"))
	history, err := h.inventory.History(h.ctx, core.MovementFilter{MaterialCode: "M1"})
	require.NoError(t, err)
	require.Len(t, history, 1)

	// 2. Bow with recipe {M1: 10}.
	b1 := h.bow(t, "B1", core.SaleSingle, "5.00", map[string]int64{"M1": 10})
	assert.True(t, b1.ProductionCost().Equal(dec("2.50")))
	assert.True(t, b1.UnitMargin().Equal(dec("2.50")))

	// 3. List with B1 × 8.
	l1 := h.list(t, "L1", planned("B1", 8))
	require.Len(t, l1.Summary, 1)
	assert.Equal(t, int64(80), l1.Summary[0].Required)
	assert.Equal(t, int64(100), l1.Summary[0].AvailableAtCreation)
	assert.Equal(t, int64(0), l1.Summary[0].Shortfall)

	// 4. draft → in_delivery consumes 80.
	l1, err = h.engine.StartProduction(h.ctx, l1.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, core.StateInDelivery, l1.State)
	assert.Equal(t, int64(20), h.stock(t, "M1"))
	assert.Equal(t, int64(80), l1.Summary[0].Consumed)
	assert.Equal(t, 8, l1.Bows[0].ProducedCount)
	exits, err := h.inventory.History(h.ctx, core.MovementFilter{Kind: core.MovementExit, ProductionListID: &l1.ID})
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, int64(-80), exits[0].Quantity)

	// 5. in_delivery → finalized.
	balance, err := h.cash.Balance(h.ctx)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	l1, err = h.engine.Finalize(h.ctx, l1.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, core.StateFinalized, l1.State)
	require.NotNil(t, l1.FinalizedAt)

	sales, err := h.engine.SalesForList(h.ctx, l1.ID)
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, "B1", sales[0].BowCode)
	assert.Equal(t, 8, sales[0].QuantitySold)
	assert.True(t, sales[0].TotalRevenue.Equal(dec("40.00")))
	assert.True(t, sales[0].TotalProfit.Equal(dec("20.00")))
	assert.True(t, sales[0].CreatedAt.Equal(*l1.FinalizedAt), "sales share the finalization instant")

	ingress, err := h.cash.Export(h.ctx, core.CashFilter{Category: core.CategorySale})
	require.NoError(t, err)
	require.Len(t, ingress, 1)
	assert.Equal(t, core.CashIngress, ingress[0].Kind)
	assert.True(t, ingress[0].Amount.Equal(dec("40.00")))
	require.NotNil(t, ingress[0].ProductionListID)
	assert.Equal(t, l1.ID, *ingress[0].ProductionListID)
	assert.True(t, ingress[0].IsAutomatic)
	assert.Equal(t, core.SaleConcept("L1"), ingress[0].Concept)

	balance, err = h.cash.Balance(h.ctx)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("40.00")))

	// 6. A pair bow consumes one recipe per planned unit.
	h.bow(t, "B2", core.SalePair, "10.00", map[string]int64{"M1": 10})
	l2 := h.list(t, "L2", planned("B2", 3))
	require.Len(t, l2.Summary, 1)
	assert.Equal(t, int64(30), l2.Summary[0].Required)
	require.Len(t, l2.Bows, 1)
	assert.Equal(t, int64(6), l2.Bows[0].EffectiveUnits())

	h.requireClean(t)
}

func TestProduction_CreateListRejectsBowWithoutRecipe(t *testing.T) {
	h := setupTestDB(t)
	h.material(t, "M1", 10, "1.00", 100)
	h.bow(t, "B1", core.SaleSingle, "5.00", map[string]int64{"M1": 1})
	h.bow(t, "EMPTY", core.SaleSingle, "5.00", nil)

	_, err := h.engine.CreateList(h.ctx, core.ListInput{Name: "Bad", Actor: "tester",
		Bows: []core.PlannedBowInput{planned("B1", 1), planned("EMPTY", 2)}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMissingRecipe))
	var typed *core.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, []string{"EMPTY"}, typed.Bows)

	assert.Equal(t, 0, h.count(t, "SELECT COUNT(*) FROM production_lists"), "failed create leaves nothing behind")
}

func TestProduction_StartWithShortfallIsRejected(t *testing.T) {
	h := setupTestDB(t)
	h.material(t, "M1", 100, "25.00", 50)
	h.bow(t, "B1", core.SaleSingle, "5.00", map[string]int64{"M1": 10})
	l := h.list(t, "Short", planned("B1", 8))
	require.True(t, l.HasShortfall())

	_, err := h.engine.StartProduction(h.ctx, l.ID, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInsufficientStock))
	var typed *core.Error
	require.True(t, errors.As(err, &typed))
	assert.Equal(t, []core.StockShortage{{MaterialCode: "M1", Required: 80, Available: 50}}, typed.Shortages)

	got, err := h.engine.GetList(h.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateDraft, got.State)
	assert.Equal(t, int64(50), h.stock(t, "M1"))
	assert.Equal(t, 1, h.count(t, "SELECT COUNT(*) FROM inventory_movements"), "only the initial stock entry")
}

func TestProduction_ProcurementFlow(t *testing.T) {
	h := setupTestDB(t)
	h.material(t, "RIB", 2000, "18.00", 500)
	h.material(t, "CLIP", 100, "12.00", 5)
	h.bow(t, "CLASSIC", core.SaleSingle, "5.00", map[string]int64{"RIB": 40, "CLIP": 1})
	h.bow(t, "TWIN", core.SalePair, "9.00", map[string]int64{"RIB": 30})

	l := h.list(t, "Spring fair", planned("CLASSIC", 20), planned("TWIN", 10))
	// RIB: 40×20 + 30×10 = 1100 against 500; CLIP: 20 against 5.
	shopping, err := h.engine.ShoppingList(h.ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, shopping, 2)
	assert.Equal(t, "CLIP", shopping[0].MaterialCode)
	assert.Equal(t, int64(15), shopping[0].Shortfall)
	assert.Equal(t, int64(1), shopping[0].ContainersNeeded)
	assert.True(t, shopping[0].EstimatedCost.Equal(dec("12.00")))
	assert.Equal(t, "RIB", shopping[1].MaterialCode)
	assert.Equal(t, int64(600), shopping[1].Shortfall)
	assert.Equal(t, int64(1), shopping[1].ContainersNeeded)

	// The list cannot skip procurement.
	_, err = h.engine.StartProduction(h.ctx, l.ID, "tester")
	assert.True(t, errors.Is(err, core.ErrInsufficientStock))

	l, err = h.engine.RequestPurchase(h.ctx, l.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, core.StatePendingPurchase, l.State)

	paid := dec("40.00")
	l, err = h.engine.RecordPurchase(h.ctx, l.ID, []core.PurchaseInput{
		{MaterialCode: "RIB", Quantity: 4000, RealPurchasePrice: &paid},
	}, "tester")
	require.NoError(t, err)
	assert.Equal(t, core.StatePurchased, l.State)
	byCode := map[string]core.MaterialSummary{}
	for _, s := range l.Summary {
		byCode[s.MaterialCode] = s
	}
	assert.Equal(t, int64(4000), byCode["RIB"].Purchased)
	assert.Equal(t, int64(100), byCode["CLIP"].Purchased, "omitted rows default to the suggested containers")
	assert.Nil(t, byCode["CLIP"].RealPurchasePrice)
	assert.Equal(t, int64(500), h.stock(t, "RIB"), "purchase alone does not touch stock")

	l, err = h.engine.Restock(h.ctx, l.ID, core.RestockOptions{RecordCashEgress: true}, "tester")
	require.NoError(t, err)
	assert.Equal(t, core.StateRestocked, l.State)
	assert.Equal(t, int64(4500), h.stock(t, "RIB"))
	assert.Equal(t, int64(105), h.stock(t, "CLIP"))

	rib, err := h.materials.Get(h.ctx, "RIB")
	require.NoError(t, err)
	assert.True(t, rib.PurchasePrice.Equal(dec("20.00")), "40.00 for 4000cm is 20.00 per 2000cm roll, got %s", rib.PurchasePrice)

	egress, err := h.cash.Export(h.ctx, core.CashFilter{Category: core.CategoryRestock})
	require.NoError(t, err)
	require.Len(t, egress, 1)
	assert.Equal(t, core.CashEgress, egress[0].Kind)
	assert.True(t, egress[0].Amount.Equal(paid))
	require.NotNil(t, egress[0].InventoryMovementID)
	assert.True(t, egress[0].BalanceAfter.Equal(dec("-40.00")), "overdraft allowed by default")

	l, err = h.engine.StartProduction(h.ctx, l.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, core.StateInDelivery, l.State)
	assert.Equal(t, int64(4500-1100), h.stock(t, "RIB"))
	assert.Equal(t, int64(105-20), h.stock(t, "CLIP"))

	// Only 7 twins turned out well.
	l, err = h.engine.SetProducedCount(h.ctx, l.ID, "TWIN", 7, "tester")
	require.NoError(t, err)
	_, err = h.engine.SetProducedCount(h.ctx, l.ID, "TWIN", 11, "tester")
	assert.True(t, errors.Is(err, core.ErrValidation))

	l, err = h.engine.Finalize(h.ctx, l.ID, "tester")
	require.NoError(t, err)
	sales, err := h.engine.SalesForList(h.ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, sales, 2)
	total := decimal.Zero
	for _, s := range sales {
		total = total.Add(s.TotalRevenue)
	}
	// 20 × 5.00 + 7 × 9.00
	assert.True(t, total.Equal(dec("163.00")), "got %s", total)

	l, err = h.engine.Archive(h.ctx, l.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, core.StateArchived, l.State)
	_, err = h.engine.Archive(h.ctx, l.ID, "tester")
	assert.True(t, errors.Is(err, core.ErrAlreadyArchived))

	h.requireClean(t)
}

func TestProduction_FinalizeTwiceIsRejected(t *testing.T) {
	h := setupTestDB(t)
	h.material(t, "M1", 100, "25.00", 100)
	h.bow(t, "B1", core.SaleSingle, "5.00", map[string]int64{"M1": 10})
	l := h.list(t, "Once", planned("B1", 8))
	_, err := h.engine.StartProduction(h.ctx, l.ID, "tester")
	require.NoError(t, err)
	_, err = h.engine.Finalize(h.ctx, l.ID, "tester")
	require.NoError(t, err)

	sales := h.count(t, "SELECT COUNT(*) FROM sale_records")
	cash := h.count(t, "SELECT COUNT(*) FROM cash_movements")

	_, err = h.engine.Finalize(h.ctx, l.ID, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrAlreadyFinalized))
	assert.Equal(t, sales, h.count(t, "SELECT COUNT(*) FROM sale_records"))
	assert.Equal(t, cash, h.count(t, "SELECT COUNT(*) FROM cash_movements"))

	_, err = h.engine.StartProduction(h.ctx, l.ID, "tester")
	assert.True(t, errors.Is(err, core.ErrAlreadyFinalized))
}

func TestProduction_RedrivenTransitionIsNoop(t *testing.T) {
	h := setupTestDB(t)
	h.material(t, "M1", 10, "1.00", 0)
	h.bow(t, "B1", core.SaleSingle, "5.00", map[string]int64{"M1": 3})
	l := h.list(t, "Retry", planned("B1", 4))

	_, err := h.engine.RequestPurchase(h.ctx, l.ID, "tester")
	require.NoError(t, err)
	_, err = h.engine.Advance(h.ctx, l.ID, core.StatePurchased, "tester")
	require.NoError(t, err)
	_, err = h.engine.Restock(h.ctx, l.ID, core.RestockOptions{}, "tester")
	require.NoError(t, err)
	movements := h.count(t, "SELECT COUNT(*) FROM inventory_movements")
	stock := h.stock(t, "M1")

	again, err := h.engine.Restock(h.ctx, l.ID, core.RestockOptions{RecordCashEgress: true}, "tester")
	require.NoError(t, err)
	assert.Equal(t, core.StateRestocked, again.State)
	assert.Equal(t, movements, h.count(t, "SELECT COUNT(*) FROM inventory_movements"))
	assert.Equal(t, stock, h.stock(t, "M1"))
	assert.Equal(t, 0, h.count(t, "SELECT COUNT(*) FROM cash_movements"))
}

func TestProduction_IllegalTransitions(t *testing.T) {
	h := setupTestDB(t)
	h.material(t, "M1", 10, "1.00", 100)
	h.bow(t, "B1", core.SaleSingle, "5.00", map[string]int64{"M1": 3})
	l := h.list(t, "Steps", planned("B1", 2))

	_, err := h.engine.Finalize(h.ctx, l.ID, "tester")
	assert.True(t, errors.Is(err, core.ErrIllegalTransition))
	_, err = h.engine.Restock(h.ctx, l.ID, core.RestockOptions{}, "tester")
	assert.True(t, errors.Is(err, core.ErrIllegalTransition))
	_, err = h.engine.RecordPurchase(h.ctx, l.ID, nil, "tester")
	assert.True(t, errors.Is(err, core.ErrIllegalTransition))

	// No shortfall: procurement is not needed.
	_, err = h.engine.RequestPurchase(h.ctx, l.ID, "tester")
	assert.True(t, errors.Is(err, core.ErrValidation))

	_, err = h.engine.Finalize(h.ctx, 9999, "tester")
	assert.True(t, errors.Is(err, core.ErrNotFound))

	got, err := h.engine.GetList(h.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateDraft, got.State)
}

func TestProduction_RecomputeSummaryIsStable(t *testing.T) {
	h := setupTestDB(t)
	h.material(t, "M1", 10, "1.00", 7)
	h.material(t, "M2", 5, "2.00", 100)
	h.bow(t, "B1", core.SaleSingle, "5.00", map[string]int64{"M1": 3, "M2": 2})
	l := h.list(t, "Stable", planned("B1", 4))

	first, err := h.engine.RecomputeSummary(h.ctx, l.ID)
	require.NoError(t, err)
	second, err := h.engine.RecomputeSummary(h.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Summary, second.Summary)
	assert.Equal(t, l.Summary, first.Summary)

	// Editing the draft recomputes against the new plan.
	edited, err := h.engine.UpdateList(h.ctx, l.ID, core.ListInput{Name: "Stable", Actor: "tester",
		Bows: []core.PlannedBowInput{planned("B1", 1)}})
	require.NoError(t, err)
	require.Len(t, edited.Summary, 2)
	assert.Equal(t, int64(3), edited.Summary[0].Required)
	assert.Equal(t, int64(0), edited.Summary[0].Shortfall)
}

func TestProduction_ConcurrentListsNeverOverdrawStock(t *testing.T) {
	h := setupTestDB(t)
	h.material(t, "M1", 10, "1.00", 100)
	h.bow(t, "B1", core.SaleSingle, "5.00", map[string]int64{"M1": 10})

	const lists = 4
	ids := make([]int, lists)
	for i := range ids {
		ids[i] = h.list(t, "Race", planned("B1", 6)).ID // 60 each, only one fits
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				_, err := h.engine.StartProduction(h.ctx, id, "tester")
				if core.IsRetryable(err) {
					continue
				}
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				} else {
					assert.True(t, errors.Is(err, core.ErrInsufficientStock), "unexpected error: %v", err)
				}
				return
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(40), h.stock(t, "M1"))
	h.requireClean(t)
}

func TestProduction_RecipeCannotBeEmptiedWhileListIsOpen(t *testing.T) {
	h := setupTestDB(t)
	h.material(t, "M1", 100, "25.00", 100)
	h.material(t, "M2", 10, "1.00", 100)
	h.bow(t, "B1", core.SaleSingle, "5.00", map[string]int64{"M1": 10, "M2": 1})
	l := h.list(t, "Busy", planned("B1", 8))
	_, err := h.engine.StartProduction(h.ctx, l.ID, "tester")
	require.NoError(t, err)

	_, err = h.bows.RemoveRecipeRow(h.ctx, "B1", "M2")
	require.NoError(t, err, "other rows remain")
	_, err = h.bows.RemoveRecipeRow(h.ctx, "B1", "M1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrInUse))
	b, err := h.bows.GetBow(h.ctx, "B1")
	require.NoError(t, err)
	require.Len(t, b.Recipe, 1)

	// A recipe emptied behind the catalog's back is caught by the audit and blocks finalization.
	_, err = h.pool.Exec(h.ctx, "DELETE FROM recipe_rows")
	require.NoError(t, err)
	report, err := h.maintenance.Audit(h.ctx)
	require.NoError(t, err)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, core.CheckPlannedBowsHaveRecipe, report.Violations[0].Check)

	_, err = h.engine.Finalize(h.ctx, l.ID, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMissingRecipe))
	got, err := h.engine.GetList(h.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateInDelivery, got.State)
	assert.Equal(t, 0, h.count(t, "SELECT COUNT(*) FROM sale_records"))
	assert.Equal(t, 0, h.count(t, "SELECT COUNT(*) FROM cash_movements"))
}

func TestProduction_RecipeChangeAfterRestockBlocksDelivery(t *testing.T) {
	h := setupTestDB(t)
	h.material(t, "M1", 10, "1.00", 0)
	h.material(t, "M2", 10, "1.00", 50)
	h.bow(t, "B1", core.SaleSingle, "5.00", map[string]int64{"M1": 3})
	l := h.list(t, "Drift", planned("B1", 4))
	_, err := h.engine.RequestPurchase(h.ctx, l.ID, "tester")
	require.NoError(t, err)
	_, err = h.engine.RecordPurchase(h.ctx, l.ID, nil, "tester")
	require.NoError(t, err)
	_, err = h.engine.Restock(h.ctx, l.ID, core.RestockOptions{}, "tester")
	require.NoError(t, err)
	assert.Equal(t, int64(20), h.stock(t, "M1"))

	_, err = h.bows.SetRecipeRow(h.ctx, "B1", "M1", 4)
	require.NoError(t, err)
	_, err = h.bows.SetRecipeRow(h.ctx, "B1", "M2", 1)
	require.NoError(t, err)

	_, err = h.engine.StartProduction(h.ctx, l.ID, "tester")
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrValidation))
	assert.Contains(t, err.Error(), "M1, M2")
	got, err := h.engine.GetList(h.ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateRestocked, got.State)
	assert.Equal(t, int64(20), h.stock(t, "M1"))
	assert.Equal(t, int64(50), h.stock(t, "M2"))

	// Restoring the planned recipe lets the list go out.
	_, err = h.bows.SetRecipeRow(h.ctx, "B1", "M1", 3)
	require.NoError(t, err)
	_, err = h.bows.RemoveRecipeRow(h.ctx, "B1", "M2")
	require.NoError(t, err)
	got, err = h.engine.StartProduction(h.ctx, l.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, core.StateInDelivery, got.State)
	assert.Equal(t, int64(8), h.stock(t, "M1"))
	h.requireClean(t)
}
