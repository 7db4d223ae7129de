package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ArchiveReport lists the finalized lists an archive run moved (or would move).
type ArchiveReport struct {
	Cutoff  time.Time
	DryRun  bool
	ListIDs []int
}

// LegacySaleOutcome describes what happened to one unlinked legacy sale ingress.
type LegacySaleOutcome struct {
	CashMovementID int64
	ListName       string
	ListID         int // zero when skipped
	SaleRecords    int
	Amount         decimal.Decimal
	Skipped        string
}

type LegacySaleReport struct {
	DryRun   bool
	Examined int
	Migrated int
	Outcomes []LegacySaleOutcome
}

type SeedReport struct {
	MaterialsCreated int
	BowsCreated      int
	RecipeRowsSet    int
}

// AuditViolation is one broken ledger invariant.
type AuditViolation struct {
	Check   string
	Subject string
	Detail  string
}

// Audit check names.
const (
	CheckStockMatchesMovements = "stock_matches_movements"
	CheckCashRunningBalance    = "cash_running_balance"
	CheckFinalizedSales        = "finalized_sales"
	CheckNonNegativeStock      = "non_negative_stock"
	CheckRecipeMaterialsActive = "recipe_materials_active"
	CheckPlannedBowsHaveRecipe = "planned_bows_have_recipe"
)

type AuditReport struct {
	MaterialsChecked     int
	CashMovementsChecked int
	ListsChecked         int
	Violations           []AuditViolation
}

func (r AuditReport) OK() bool { return len(r.Violations) == 0 }

// MaintenanceService runs the management operations exposed on the command line.
type MaintenanceService interface {
	// ArchiveOldLists archives finalized lists whose finalization is older than days.
	ArchiveOldLists(ctx context.Context, days int, dryRun bool, actor string) (*ArchiveReport, error)
	// MigrateLegacySales rebuilds sale records for sale ingresses that carry no list
	// reference, matching the list by the "List: <name>" suffix of their concept.
	MigrateLegacySales(ctx context.Context, dryRun bool, actor string) (*LegacySaleReport, error)
	// SeedCatalog creates a development catalog. Existing codes are left untouched.
	SeedCatalog(ctx context.Context, actor string) (*SeedReport, error)
	// Audit verifies the ledger invariants and reports every violation found.
	Audit(ctx context.Context) (*AuditReport, error)
}

type maintenanceService struct {
	db        *DB
	engine    ProductionEngine
	materials MaterialService
	bows      BowService
}

func NewMaintenanceService(db *DB, engine ProductionEngine, materials MaterialService, bows BowService) MaintenanceService {
	return &maintenanceService{db: db, engine: engine, materials: materials, bows: bows}
}

// ── Archive ───────────────────────────────────────────────────────────────────

func (s *maintenanceService) ArchiveOldLists(ctx context.Context, days int, dryRun bool, actor string) (*ArchiveReport, error) {
	if days < 0 {
		return nil, validation("days cannot be negative, got %d", days)
	}
	report := &ArchiveReport{DryRun: dryRun}
	if err := s.db.pool.QueryRow(ctx, "SELECT NOW() - make_interval(days => $1)", days).Scan(&report.Cutoff); err != nil {
		return nil, fmt.Errorf("failed to compute archive cutoff: %w", err)
	}

	rows, err := s.db.pool.Query(ctx, `
		SELECT id FROM production_lists
		WHERE state = $1 AND finalized_at < $2
		ORDER BY finalized_at, id
	`, StateFinalized, report.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query lists to archive: %w", err)
	}
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan list id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read lists to archive: %w", err)
	}

	if dryRun {
		report.ListIDs = ids
		return report, nil
	}
	for _, id := range ids {
		if _, err := s.engine.Archive(ctx, id, actor); err != nil {
			// Archived concurrently by someone else.
			if errors.Is(err, ErrAlreadyArchived) {
				continue
			}
			return report, fmt.Errorf("failed to archive list %d: %w", id, err)
		}
		report.ListIDs = append(report.ListIDs, id)
	}
	log.Info().Int("archived", len(report.ListIDs)).Int("days", days).Msg("old lists archived")
	return report, nil
}

// ── Legacy sales ──────────────────────────────────────────────────────────────

type legacySale struct {
	ID        int64
	Amount    decimal.Decimal
	Concept   string
	CreatedAt time.Time
}

func (s *maintenanceService) MigrateLegacySales(ctx context.Context, dryRun bool, actor string) (*LegacySaleReport, error) {
	rows, err := s.db.pool.Query(ctx, `
		SELECT id, amount, concept, created_at
		FROM cash_movements
		WHERE category = $1 AND kind = $2 AND production_list_id IS NULL
		ORDER BY created_at, id
	`, CategorySale, CashIngress)
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy sales: %w", err)
	}
	var legacy []legacySale
	for rows.Next() {
		var ls legacySale
		if err := rows.Scan(&ls.ID, &ls.Amount, &ls.Concept, &ls.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan legacy sale: %w", err)
		}
		legacy = append(legacy, ls)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read legacy sales: %w", err)
	}

	report := &LegacySaleReport{DryRun: dryRun, Examined: len(legacy)}
	for _, ls := range legacy {
		var outcome LegacySaleOutcome
		err := s.db.inTx(ctx, func(tx pgx.Tx) error {
			var err error
			outcome, err = migrateLegacySale(ctx, tx, ls, dryRun, actor)
			return err
		})
		if err != nil {
			return report, fmt.Errorf("failed to migrate legacy sale %d: %w", ls.ID, err)
		}
		if outcome.Skipped == "" {
			report.Migrated++
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}
	log.Info().Int("examined", report.Examined).Int("migrated", report.Migrated).Bool("dry_run", dryRun).
		Msg("legacy sales migration finished")
	return report, nil
}

func migrateLegacySale(ctx context.Context, tx pgx.Tx, ls legacySale, dryRun bool, actor string) (LegacySaleOutcome, error) {
	out := LegacySaleOutcome{CashMovementID: ls.ID, Amount: ls.Amount}
	name, ok := ParseListName(ls.Concept)
	if !ok {
		out.Skipped = "concept carries no list name"
		return out, nil
	}
	out.ListName = name

	// Candidates are finalized lists of that name that have no sales yet.
	rows, err := tx.Query(ctx, `
		SELECT l.id, COALESCE(l.finalized_at, l.updated_at)
		FROM production_lists l
		WHERE l.name = $1
		  AND l.state IN ('finalized', 'archived')
		  AND NOT EXISTS (SELECT 1 FROM sale_records sr WHERE sr.list_id = l.id)
		  AND NOT EXISTS (SELECT 1 FROM cash_movements cm WHERE cm.production_list_id = l.id AND cm.category = 'sale')
		ORDER BY l.id
		FOR UPDATE OF l
	`, name)
	if err != nil {
		return out, fmt.Errorf("failed to query candidate lists: %w", err)
	}
	var candidates []listCandidate
	for rows.Next() {
		var c listCandidate
		if err := rows.Scan(&c.ID, &c.FinalizedAt); err != nil {
			rows.Close()
			return out, fmt.Errorf("failed to scan candidate list: %w", err)
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("failed to read candidate lists: %w", err)
	}

	chosen, ok := nearestList(candidates, ls.CreatedAt)
	if !ok {
		out.Skipped = "no finalized list without sales matches " + name
		return out, nil
	}
	out.ListID = chosen.ID

	planned, err := loadPlanned(ctx, tx, chosen.ID)
	if err != nil {
		return out, err
	}
	var sold []PlannedBow
	for _, p := range planned {
		if p.ProducedCount > 0 {
			sold = append(sold, p)
		}
	}
	if len(sold) == 0 {
		out.ListID = 0
		out.Skipped = fmt.Sprintf("list %d has no produced bows", chosen.ID)
		return out, nil
	}
	ids := make([]int, len(sold))
	for i, p := range sold {
		ids[i] = p.BowID
	}
	recipes, err := loadRecipes(ctx, tx, ids)
	if err != nil {
		return out, err
	}
	records := make([]SaleRecord, 0, len(sold))
	total := decimal.Zero
	for _, p := range sold {
		if len(recipes[p.BowID]) == 0 {
			out.ListID = 0
			out.Skipped = fmt.Sprintf("bow %s of list %d has no recipe", p.BowCode, chosen.ID)
			return out, nil
		}
		rec := NewSaleRecord(p, ProductionCost(recipes[p.BowID]), actor, ls.CreatedAt)
		total = total.Add(rec.TotalRevenue)
		records = append(records, rec)
	}
	// The list's sale records must add up to the payment they are linked to.
	if !total.Equal(ls.Amount) {
		out.ListID = 0
		out.Skipped = fmt.Sprintf("list %d sells for %s at current prices, payment was %s",
			chosen.ID, total.StringFixed(2), ls.Amount.StringFixed(2))
		return out, nil
	}
	out.SaleRecords = len(records)
	if dryRun {
		return out, nil
	}

	for _, rec := range records {
		if _, err := tx.Exec(ctx, `
			INSERT INTO sale_records
				(list_id, bow_id, quantity_sold, sale_mode_at_sale, unit_price, total_revenue,
				 unit_cost, total_profit, actor, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, rec.ListID, rec.BowID, rec.QuantitySold, rec.SaleMode, rec.UnitPrice, rec.TotalRevenue,
			rec.UnitCost, rec.TotalProfit, rec.Actor, rec.CreatedAt); err != nil {
			return out, fmt.Errorf("failed to insert sale record for %s: %w", rec.BowCode, err)
		}
	}
	if _, err := tx.Exec(ctx,
		"UPDATE cash_movements SET production_list_id = $1 WHERE id = $2 AND production_list_id IS NULL",
		chosen.ID, ls.ID); err != nil {
		return out, fmt.Errorf("failed to link legacy sale: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE production_lists SET finalized_at = COALESCE(finalized_at, $1) WHERE id = $2",
		ls.CreatedAt, chosen.ID); err != nil {
		return out, fmt.Errorf("failed to stamp legacy finalization: %w", err)
	}
	return out, nil
}

// ── Seed ──────────────────────────────────────────────────────────────────────

type seedRecipeRow struct {
	material string
	qty      int64
}

type seedBow struct {
	input  BowInput
	recipe []seedRecipeRow
}

func seedMaterials() []MaterialInput {
	return []MaterialInput{
		{Code: "RIB-SAT", Name: "Satin ribbon 25mm", Category: "ribbon", ContainerType: ContainerRoll, BaseUnit: UnitCentimeters,
			ConversionFactor: 2000, PurchasePrice: decimal.RequireFromString("18.00"), InitialStock: 6000},
		{Code: "RIB-GRO", Name: "Grosgrain ribbon 38mm", Category: "ribbon", ContainerType: ContainerRoll, BaseUnit: UnitCentimeters,
			ConversionFactor: 2500, PurchasePrice: decimal.RequireFromString("22.50"), InitialStock: 2500},
		{Code: "CLIP-AL", Name: "Alligator clip", Category: "hardware", ContainerType: ContainerPackage, BaseUnit: UnitUnits,
			ConversionFactor: 100, PurchasePrice: decimal.RequireFromString("12.00"), InitialStock: 150},
		{Code: "ELASTIC", Name: "Elastic hair tie", Category: "hardware", ContainerType: ContainerPackage, BaseUnit: UnitUnits,
			ConversionFactor: 50, PurchasePrice: decimal.RequireFromString("6.00"), InitialStock: 40},
		{Code: "PEARL", Name: "Pearl bead 6mm", Category: "decoration", ContainerType: ContainerPackage, BaseUnit: UnitUnits,
			ConversionFactor: 200, PurchasePrice: decimal.RequireFromString("9.00"), InitialStock: 0},
		{Code: "GLUE", Name: "Hot glue stick", Category: "supplies", ContainerType: ContainerPackage, BaseUnit: UnitUnits,
			ConversionFactor: 10, PurchasePrice: decimal.RequireFromString("4.50"), InitialStock: 20},
	}
}

func seedBows() []seedBow {
	return []seedBow{
		{
			input:  BowInput{Code: "BOW-CLASSIC", Name: "Classic satin bow", SaleMode: SaleSingle, SalePrice: decimal.RequireFromString("5.00")},
			recipe: []seedRecipeRow{{"RIB-SAT", 40}, {"CLIP-AL", 1}},
		},
		{
			input:  BowInput{Code: "BOW-TWIN", Name: "Twin grosgrain bows", SaleMode: SalePair, SalePrice: decimal.RequireFromString("9.00")},
			recipe: []seedRecipeRow{{"RIB-GRO", 30}, {"ELASTIC", 1}},
		},
		{
			input:  BowInput{Code: "BOW-PEARL", Name: "Pearl party bow", SaleMode: SaleSingle, SalePrice: decimal.RequireFromString("7.50")},
			recipe: []seedRecipeRow{{"RIB-SAT", 35}, {"PEARL", 5}, {"CLIP-AL", 1}, {"GLUE", 1}},
		},
	}
}

func (s *maintenanceService) SeedCatalog(ctx context.Context, actor string) (*SeedReport, error) {
	report := &SeedReport{}
	for _, in := range seedMaterials() {
		_, err := s.materials.Get(ctx, in.Code)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return report, err
		}
		in.Actor = actor
		if _, err := s.materials.Create(ctx, in); err != nil {
			return report, fmt.Errorf("failed to seed material %s: %w", in.Code, err)
		}
		report.MaterialsCreated++
	}

	for _, sb := range seedBows() {
		bow, err := s.bows.GetBow(ctx, sb.input.Code)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return report, err
			}
			if bow, err = s.bows.CreateBow(ctx, sb.input); err != nil {
				return report, fmt.Errorf("failed to seed bow %s: %w", sb.input.Code, err)
			}
			report.BowsCreated++
		}
		if bow.HasRecipe() {
			continue
		}
		for _, r := range sb.recipe {
			if _, err := s.bows.SetRecipeRow(ctx, bow.Code, r.material, r.qty); err != nil {
				return report, fmt.Errorf("failed to seed recipe of %s: %w", bow.Code, err)
			}
			report.RecipeRowsSet++
		}
	}
	log.Info().Int("materials", report.MaterialsCreated).Int("bows", report.BowsCreated).
		Int("recipe_rows", report.RecipeRowsSet).Msg("catalog seeded")
	return report, nil
}

// ── Audit ─────────────────────────────────────────────────────────────────────

func (s *maintenanceService) Audit(ctx context.Context) (*AuditReport, error) {
	report := &AuditReport{}
	checks := []func(context.Context, *AuditReport) error{
		s.auditStock,
		s.auditCash,
		s.auditFinalizedLists,
		s.auditRecipes,
		s.auditPlannedRecipes,
	}
	for _, check := range checks {
		if err := check(ctx, report); err != nil {
			return nil, err
		}
	}
	return report, nil
}

func (r *AuditReport) add(check, subject, format string, args ...any) {
	r.Violations = append(r.Violations, AuditViolation{Check: check, Subject: subject, Detail: fmt.Sprintf(format, args...)})
}

// auditStock compares stock with the movement sum and walks each material's
// movement chain, which must never dip below zero.
func (s *maintenanceService) auditStock(ctx context.Context, report *AuditReport) error {
	rows, err := s.db.pool.Query(ctx, `
		SELECT m.code, m.stock_on_hand, COALESCE(SUM(im.quantity), 0)
		FROM materials m
		LEFT JOIN inventory_movements im ON im.material_id = m.id
		GROUP BY m.id, m.code, m.stock_on_hand
		ORDER BY m.code
	`)
	if err != nil {
		return fmt.Errorf("failed to audit stock: %w", err)
	}
	for rows.Next() {
		var (
			code       string
			stock, sum int64
		)
		if err := rows.Scan(&code, &stock, &sum); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan stock audit: %w", err)
		}
		report.MaterialsChecked++
		if stock != sum {
			report.add(CheckStockMatchesMovements, code, "stock_on_hand %d, movements sum to %d", stock, sum)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read stock audit: %w", err)
	}

	rows, err = s.db.pool.Query(ctx, `
		SELECT im.id, m.code, im.stock_before, im.stock_after
		FROM inventory_movements im
		JOIN materials m ON m.id = im.material_id
		ORDER BY im.material_id, im.id
	`)
	if err != nil {
		return fmt.Errorf("failed to audit movement chain: %w", err)
	}
	defer rows.Close()

	prev := map[string]int64{}
	for rows.Next() {
		var (
			id            int64
			code          string
			before, after int64
		)
		if err := rows.Scan(&id, &code, &before, &after); err != nil {
			return fmt.Errorf("failed to scan movement chain: %w", err)
		}
		if after < 0 {
			report.add(CheckNonNegativeStock, code, "movement %d leaves stock at %d", id, after)
		}
		if p, seen := prev[code]; seen && p != before {
			report.add(CheckStockMatchesMovements, code, "movement %d starts at %d, previous movement ended at %d", id, before, p)
		}
		prev[code] = after
	}
	return rows.Err()
}

func (s *maintenanceService) auditCash(ctx context.Context, report *AuditReport) error {
	rows, err := s.db.pool.Query(ctx, `
		SELECT id, kind, amount, balance_before, balance_after
		FROM cash_movements
		ORDER BY created_at, id
	`)
	if err != nil {
		return fmt.Errorf("failed to audit cash: %w", err)
	}
	defer rows.Close()

	running := decimal.Zero
	for rows.Next() {
		var (
			id                    int64
			kind                  CashKind
			amount, before, after decimal.Decimal
		)
		if err := rows.Scan(&id, &kind, &amount, &before, &after); err != nil {
			return fmt.Errorf("failed to scan cash audit: %w", err)
		}
		report.CashMovementsChecked++
		subject := fmt.Sprintf("cash#%d", id)
		if !before.Equal(running) {
			report.add(CheckCashRunningBalance, subject, "balance_before %s, running balance %s", before.StringFixed(2), running.StringFixed(2))
		}
		if want := NextBalance(before, kind, amount); !after.Equal(want) {
			report.add(CheckCashRunningBalance, subject, "balance_after %s, expected %s", after.StringFixed(2), want.StringFixed(2))
		}
		running = NextBalance(running, kind, amount)
	}
	return rows.Err()
}

func (s *maintenanceService) auditFinalizedLists(ctx context.Context, report *AuditReport) error {
	rows, err := s.db.pool.Query(ctx, `
		SELECT l.id,
		       (SELECT COUNT(*) FROM cash_movements cm
		         WHERE cm.production_list_id = l.id AND cm.category = 'sale' AND cm.kind = 'ingress'),
		       (SELECT COALESCE(SUM(cm.amount), 0) FROM cash_movements cm
		         WHERE cm.production_list_id = l.id AND cm.category = 'sale' AND cm.kind = 'ingress'),
		       (SELECT COUNT(*) FROM sale_records sr WHERE sr.list_id = l.id),
		       (SELECT COALESCE(SUM(sr.total_revenue), 0) FROM sale_records sr WHERE sr.list_id = l.id),
		       (SELECT COUNT(*) FROM planned_bows pb WHERE pb.list_id = l.id AND pb.produced_count > 0)
		FROM production_lists l
		WHERE l.state IN ('finalized', 'archived')
		ORDER BY l.id
	`)
	if err != nil {
		return fmt.Errorf("failed to audit finalized lists: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id                      int
			ingressCount, saleCount int
			producedRows            int
			ingressTotal, saleTotal decimal.Decimal
		)
		if err := rows.Scan(&id, &ingressCount, &ingressTotal, &saleCount, &saleTotal, &producedRows); err != nil {
			return fmt.Errorf("failed to scan list audit: %w", err)
		}
		report.ListsChecked++
		subject := fmt.Sprintf("list#%d", id)
		if ingressCount != 1 {
			report.add(CheckFinalizedSales, subject, "%d sale ingresses reference the list, expected 1", ingressCount)
		}
		if !ingressTotal.Equal(saleTotal) {
			report.add(CheckFinalizedSales, subject, "sale ingress %s, sale records total %s", ingressTotal.StringFixed(2), saleTotal.StringFixed(2))
		}
		if saleCount != producedRows {
			report.add(CheckFinalizedSales, subject, "%d sale records for %d produced rows", saleCount, producedRows)
		}
	}
	return rows.Err()
}

func (s *maintenanceService) auditRecipes(ctx context.Context, report *AuditReport) error {
	rows, err := s.db.pool.Query(ctx, `
		SELECT b.code, m.code
		FROM recipe_rows r
		JOIN bows b ON b.id = r.bow_id
		JOIN materials m ON m.id = r.material_id
		WHERE b.is_active AND NOT m.is_active
		ORDER BY b.code, m.code
	`)
	if err != nil {
		return fmt.Errorf("failed to audit recipes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var bow, material string
		if err := rows.Scan(&bow, &material); err != nil {
			return fmt.Errorf("failed to scan recipe audit: %w", err)
		}
		report.add(CheckRecipeMaterialsActive, bow, "recipe uses inactive material %s", material)
	}
	return rows.Err()
}

// auditPlannedRecipes reports bows planned in open lists that have no recipe rows.
func (s *maintenanceService) auditPlannedRecipes(ctx context.Context, report *AuditReport) error {
	rows, err := s.db.pool.Query(ctx, `
		SELECT l.id, b.code
		FROM planned_bows pb
		JOIN production_lists l ON l.id = pb.list_id
		JOIN bows b ON b.id = pb.bow_id
		WHERE l.state NOT IN ('finalized', 'archived')
		  AND NOT EXISTS (SELECT 1 FROM recipe_rows r WHERE r.bow_id = pb.bow_id)
		ORDER BY l.id, b.code
	`)
	if err != nil {
		return fmt.Errorf("failed to audit planned recipes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			listID int
			bow    string
		)
		if err := rows.Scan(&listID, &bow); err != nil {
			return fmt.Errorf("failed to scan planned recipe audit: %w", err)
		}
		report.add(CheckPlannedBowsHaveRecipe, fmt.Sprintf("list#%d", listID), "bow %s has no recipe rows", bow)
	}
	return rows.Err()
}
