package core_test

import (
	"context"
	"os"
	"testing"
	"time"

	"bow-workshop/internal/core"
	"bow-workshop/internal/db"
	"bow-workshop/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// harness wires every core service against a freshly truncated test database.
type harness struct {
	ctx         context.Context
	pool        *pgxpool.Pool
	db          *core.DB
	inventory   core.InventoryLedger
	cash        core.CashLedger
	settings    core.SettingsService
	materials   core.MaterialService
	bows        core.BowService
	engine      core.ProductionEngine
	analytics   core.AnalyticsService
	maintenance core.MaintenanceService
}

func setupTestDB(t *testing.T) *harness {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database: every test truncates all tables.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err, "connect to test database")
	t.Cleanup(pool.Close)

	_, err = db.Migrate(ctx, dbURL, migrations.Files)
	require.NoError(t, err, "migrate test database")

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE sale_records, cash_movements, inventory_movements, material_summaries,
			planned_bows, production_lists, recipe_rows, bows, materials, settings
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err, "truncate test database")

	return newHarness(ctx, pool, true)
}

func newHarness(ctx context.Context, pool *pgxpool.Pool, allowOverdraft bool) *harness {
	store := core.NewDB(pool, 10*time.Second)
	h := &harness{ctx: ctx, pool: pool, db: store}
	h.inventory = core.NewInventoryLedger(store)
	h.cash = core.NewCashLedger(store, allowOverdraft)
	h.settings = core.NewSettingsService(store)
	h.materials = core.NewMaterialService(store, h.inventory)
	h.bows = core.NewBowService(store)
	h.engine = core.NewProductionEngine(store, h.inventory, h.cash)
	h.analytics = core.NewAnalyticsService(store, h.cash, nil, time.Minute)
	h.maintenance = core.NewMaintenanceService(store, h.engine, h.materials, h.bows)
	return h
}

func (h *harness) material(t *testing.T, code string, factor int, price string, stock int64) *core.Material {
	t.Helper()
	m, err := h.materials.Create(h.ctx, core.MaterialInput{
		Code:             code,
		Name:             "Material " + code,
		Category:         "test",
		ContainerType:    core.ContainerPackage,
		BaseUnit:         core.UnitUnits,
		ConversionFactor: factor,
		PurchasePrice:    decimal.RequireFromString(price),
		InitialStock:     stock,
		Actor:            "tester",
	})
	require.NoError(t, err, "create material %s", code)
	return m
}

func (h *harness) bow(t *testing.T, code string, mode core.SaleMode, price string, recipe map[string]int64) *core.Bow {
	t.Helper()
	b, err := h.bows.CreateBow(h.ctx, core.BowInput{
		Code: code, Name: "Bow " + code, SaleMode: mode, SalePrice: decimal.RequireFromString(price),
	})
	require.NoError(t, err, "create bow %s", code)
	for material, qty := range recipe {
		b, err = h.bows.SetRecipeRow(h.ctx, code, material, qty)
		require.NoError(t, err, "set recipe %s/%s", code, material)
	}
	return b
}

func (h *harness) list(t *testing.T, name string, bows ...core.PlannedBowInput) *core.ProductionList {
	t.Helper()
	l, err := h.engine.CreateList(h.ctx, core.ListInput{Name: name, Actor: "tester", Bows: bows})
	require.NoError(t, err, "create list %s", name)
	return l
}

func (h *harness) stock(t *testing.T, code string) int64 {
	t.Helper()
	m, err := h.materials.Get(h.ctx, code)
	require.NoError(t, err)
	return m.StockOnHand
}

func (h *harness) count(t *testing.T, sql string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, h.pool.QueryRow(h.ctx, sql, args...).Scan(&n))
	return n
}

// requireClean asserts the ledger invariants hold across the whole database.
func (h *harness) requireClean(t *testing.T) {
	t.Helper()
	report, err := h.maintenance.Audit(h.ctx)
	require.NoError(t, err)
	require.Empty(t, report.Violations, "audit violations")
}

func planned(code string, n int) core.PlannedBowInput {
	return core.PlannedBowInput{BowCode: code, Count: n}
}
