package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ProductionEngine drives production lists through their lifecycle. Every transition
// runs in one transaction holding the list row lock: ledger writes and the state change
// commit together or not at all.
type ProductionEngine interface {
	CreateList(ctx context.Context, in ListInput) (*ProductionList, error)
	// UpdateList replaces the name, description and planned bows of a draft list.
	UpdateList(ctx context.Context, id int, in ListInput) (*ProductionList, error)
	RecomputeSummary(ctx context.Context, id int) (*ProductionList, error)
	GetList(ctx context.Context, id int) (*ProductionList, error)
	// ListLists returns list headers without planned bows or summary rows.
	ListLists(ctx context.Context, filter ListFilter) ([]ProductionList, error)
	ShoppingList(ctx context.Context, id int) ([]ShoppingListItem, error)
	SalesForList(ctx context.Context, id int) ([]SaleRecord, error)

	// RequestPurchase moves a draft with a shortfall to pending_purchase.
	RequestPurchase(ctx context.Context, id int, actor string) (*ProductionList, error)
	// RecordPurchase moves pending_purchase to purchased. Rows without an input
	// default to the suggested full-container quantity.
	RecordPurchase(ctx context.Context, id int, purchases []PurchaseInput, actor string) (*ProductionList, error)
	// Restock books one entry movement per purchased row and moves to restocked.
	Restock(ctx context.Context, id int, opts RestockOptions, actor string) (*ProductionList, error)
	// StartProduction consumes the required materials and moves draft or restocked to in_delivery.
	StartProduction(ctx context.Context, id int, actor string) (*ProductionList, error)
	// SetProducedCount adjusts one planned row while the list is in_delivery.
	SetProducedCount(ctx context.Context, id int, bowCode string, produced int, actor string) (*ProductionList, error)
	// Finalize records the sales and the single sale ingress of the list.
	Finalize(ctx context.Context, id int, actor string) (*ProductionList, error)
	Archive(ctx context.Context, id int, actor string) (*ProductionList, error)
	// Advance dispatches to the transition that reaches target, using default inputs.
	Advance(ctx context.Context, id int, target ListState, actor string) (*ProductionList, error)
}

type productionEngine struct {
	db        *DB
	inventory InventoryLedger
	cash      CashLedger
}

func NewProductionEngine(db *DB, inventory InventoryLedger, cash CashLedger) ProductionEngine {
	return &productionEngine{db: db, inventory: inventory, cash: cash}
}

// ── Reads ─────────────────────────────────────────────────────────────────────

const listColumns = "id, name, description, state, creator, created_at, updated_at, finalized_at"

func scanList(row pgx.Row) (ProductionList, error) {
	var l ProductionList
	err := row.Scan(&l.ID, &l.Name, &l.Description, &l.State, &l.Creator, &l.CreatedAt, &l.UpdatedAt, &l.FinalizedAt)
	return l, err
}

func getListHeader(ctx context.Context, q querier, id int, forUpdate bool) (*ProductionList, error) {
	sql := "SELECT " + listColumns + " FROM production_lists WHERE id = $1"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	l, err := scanList(q.QueryRow(ctx, sql, id))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("production list %d not found", id)
		}
		return nil, fmt.Errorf("failed to fetch production list %d: %w", id, err)
	}
	return &l, nil
}

func loadPlanned(ctx context.Context, q querier, listID int) ([]PlannedBow, error) {
	rows, err := q.Query(ctx, `
		SELECT pb.id, pb.list_id, pb.bow_id, b.code, b.name, b.sale_mode, b.sale_price,
		       pb.planned_count, pb.produced_count
		FROM planned_bows pb
		JOIN bows b ON b.id = pb.bow_id
		WHERE pb.list_id = $1
		ORDER BY b.code
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to query planned bows: %w", err)
	}
	defer rows.Close()

	var out []PlannedBow
	for rows.Next() {
		var p PlannedBow
		if err := rows.Scan(&p.ID, &p.ListID, &p.BowID, &p.BowCode, &p.BowName, &p.SaleMode, &p.SalePrice,
			&p.PlannedCount, &p.ProducedCount); err != nil {
			return nil, fmt.Errorf("failed to scan planned bow: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func loadSummary(ctx context.Context, q querier, listID int) ([]MaterialSummary, error) {
	rows, err := q.Query(ctx, `
		SELECT ms.id, ms.list_id, ms.material_id, m.code, m.name, m.container_type, m.conversion_factor,
		       m.purchase_price, ms.required_quantity, ms.available_at_creation, ms.shortfall,
		       ms.purchased_quantity, ms.consumed_quantity, ms.real_purchase_price
		FROM material_summaries ms
		JOIN materials m ON m.id = ms.material_id
		WHERE ms.list_id = $1
		ORDER BY m.code
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to query material summary: %w", err)
	}
	defer rows.Close()

	var out []MaterialSummary
	for rows.Next() {
		var s MaterialSummary
		if err := rows.Scan(&s.ID, &s.ListID, &s.MaterialID, &s.MaterialCode, &s.MaterialName, &s.ContainerType,
			&s.ConversionFactor, &s.PurchasePrice, &s.Required, &s.AvailableAtCreation, &s.Shortfall,
			&s.Purchased, &s.Consumed, &s.RealPurchasePrice); err != nil {
			return nil, fmt.Errorf("failed to scan material summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func loadList(ctx context.Context, q querier, id int, forUpdate bool) (*ProductionList, error) {
	l, err := getListHeader(ctx, q, id, forUpdate)
	if err != nil {
		return nil, err
	}
	if l.Bows, err = loadPlanned(ctx, q, id); err != nil {
		return nil, err
	}
	if l.Summary, err = loadSummary(ctx, q, id); err != nil {
		return nil, err
	}
	return l, nil
}

func (e *productionEngine) GetList(ctx context.Context, id int) (*ProductionList, error) {
	return loadList(ctx, e.db.pool, id, false)
}

func (e *productionEngine) ListLists(ctx context.Context, filter ListFilter) ([]ProductionList, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, validation("unknown list state %q", filter.State)
	}
	rows, err := e.db.pool.Query(ctx, `
		SELECT `+listColumns+`
		FROM production_lists
		WHERE ($1 = '' OR state = $1)
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%')
		ORDER BY created_at DESC, id DESC
	`, string(filter.State), strings.TrimSpace(filter.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to query production lists: %w", err)
	}
	defer rows.Close()

	var out []ProductionList
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan production list: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (e *productionEngine) ShoppingList(ctx context.Context, id int) ([]ShoppingListItem, error) {
	if _, err := getListHeader(ctx, e.db.pool, id, false); err != nil {
		return nil, err
	}
	summary, err := loadSummary(ctx, e.db.pool, id)
	if err != nil {
		return nil, err
	}
	return BuildShoppingList(summary), nil
}

func (e *productionEngine) SalesForList(ctx context.Context, id int) ([]SaleRecord, error) {
	if _, err := getListHeader(ctx, e.db.pool, id, false); err != nil {
		return nil, err
	}
	rows, err := e.db.pool.Query(ctx, `
		SELECT sr.id, sr.list_id, sr.bow_id, b.code, b.name, sr.quantity_sold, sr.sale_mode_at_sale,
		       sr.unit_price, sr.total_revenue, sr.unit_cost, sr.total_profit, sr.actor, sr.created_at
		FROM sale_records sr
		JOIN bows b ON b.id = sr.bow_id
		WHERE sr.list_id = $1
		ORDER BY b.code
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query sale records: %w", err)
	}
	defer rows.Close()

	var out []SaleRecord
	for rows.Next() {
		var r SaleRecord
		if err := rows.Scan(&r.ID, &r.ListID, &r.BowID, &r.BowCode, &r.BowName, &r.QuantitySold, &r.SaleMode,
			&r.UnitPrice, &r.TotalRevenue, &r.UnitCost, &r.TotalProfit, &r.Actor, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sale record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── Draft editing ─────────────────────────────────────────────────────────────

func (e *productionEngine) CreateList(ctx context.Context, in ListInput) (*ProductionList, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var out *ProductionList
	err := e.db.inTx(ctx, func(tx pgx.Tx) error {
		var id int
		if err := tx.QueryRow(ctx, `
			INSERT INTO production_lists (name, description, state, creator)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, in.Name, in.Description, StateDraft, in.Actor).Scan(&id); err != nil {
			return fmt.Errorf("failed to insert production list: %w", err)
		}
		if err := replacePlanned(ctx, tx, id, in.Bows); err != nil {
			return err
		}
		if err := recomputeSummary(ctx, tx, id); err != nil {
			return err
		}
		var err error
		out, err = loadList(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Int("list_id", out.ID).Str("name", out.Name).Str("actor", in.Actor).Msg("production list created")
	return out, nil
}

func (e *productionEngine) UpdateList(ctx context.Context, id int, in ListInput) (*ProductionList, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}
	var out *ProductionList
	err := e.db.inTx(ctx, func(tx pgx.Tx) error {
		l, err := getListHeader(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if l.State != StateDraft {
			return validation("list %d is %s; only draft lists can be edited", id, l.State)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE production_lists SET name = $1, description = $2, updated_at = NOW() WHERE id = $3
		`, in.Name, in.Description, id); err != nil {
			return fmt.Errorf("failed to update production list: %w", err)
		}
		if err := replacePlanned(ctx, tx, id, in.Bows); err != nil {
			return err
		}
		if err := recomputeSummary(ctx, tx, id); err != nil {
			return err
		}
		out, err = loadList(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *productionEngine) RecomputeSummary(ctx context.Context, id int) (*ProductionList, error) {
	var out *ProductionList
	err := e.db.inTx(ctx, func(tx pgx.Tx) error {
		l, err := getListHeader(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if l.State != StateDraft {
			return validation("list %d is %s; its summary is frozen", id, l.State)
		}
		if err := recomputeSummary(ctx, tx, id); err != nil {
			return err
		}
		out, err = loadList(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// replacePlanned swaps the planned bow rows of a list for inputs.
// Rows keep their ids when the bow stays planned.
func replacePlanned(ctx context.Context, tx pgx.Tx, listID int, inputs []PlannedBowInput) error {
	bowIDs := make([]int, 0, len(inputs))
	for _, in := range inputs {
		var (
			bowID  int
			active bool
		)
		err := tx.QueryRow(ctx, "SELECT id, is_active FROM bows WHERE code = $1", in.BowCode).Scan(&bowID, &active)
		if err != nil {
			if isNoRows(err) {
				return notFound("bow %s not found", in.BowCode)
			}
			return fmt.Errorf("failed to resolve bow %s: %w", in.BowCode, err)
		}
		if !active {
			return validation("bow %s is inactive and cannot be planned", in.BowCode)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO planned_bows (list_id, bow_id, planned_count, produced_count)
			VALUES ($1, $2, $3, 0)
			ON CONFLICT (list_id, bow_id) DO UPDATE SET planned_count = EXCLUDED.planned_count, produced_count = 0
		`, listID, bowID, in.Count); err != nil {
			return fmt.Errorf("failed to upsert planned bow %s: %w", in.BowCode, err)
		}
		bowIDs = append(bowIDs, bowID)
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM planned_bows WHERE list_id = $1 AND NOT (bow_id = ANY($2))", listID, bowIDs); err != nil {
		return fmt.Errorf("failed to prune planned bows: %w", err)
	}
	return nil
}

// requirementsFor expands the planned rows of a list through the current recipes.
func requirementsFor(ctx context.Context, q querier, planned []PlannedBow) (map[int]int64, error) {
	ids := make([]int, len(planned))
	for i, p := range planned {
		ids[i] = p.BowID
	}
	recipes, err := loadRecipes(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	required, missing := ComputeRequirements(planned, recipes)
	if len(missing) > 0 {
		return nil, missingRecipe(missing)
	}
	return required, nil
}

// lockMaterials row-locks the given materials in id order and returns them by id.
func lockMaterials(ctx context.Context, tx pgx.Tx, ids []int) (map[int]Material, error) {
	out := make(map[int]Material, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := tx.Query(ctx, `
		SELECT `+materialColumns+`
		FROM materials
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock materials: %w", err)
	}
	ms, err := collectMaterials(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		out[m.ID] = m
	}
	return out, nil
}

func mapKeys(m map[int]int64) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// recomputeSummary rebuilds the material summary of a list from its planned rows,
// the current recipes and current stock. Unchanged inputs leave the rows unchanged.
func recomputeSummary(ctx context.Context, tx pgx.Tx, listID int) error {
	planned, err := loadPlanned(ctx, tx, listID)
	if err != nil {
		return err
	}
	required, err := requirementsFor(ctx, tx, planned)
	if err != nil {
		return err
	}
	materials, err := lockMaterials(ctx, tx, mapKeys(required))
	if err != nil {
		return err
	}
	summary := BuildSummary(required, materials)

	keep := make([]int, 0, len(summary))
	for _, s := range summary {
		keep = append(keep, s.MaterialID)
		if _, err := tx.Exec(ctx, `
			INSERT INTO material_summaries
				(list_id, material_id, required_quantity, available_at_creation, shortfall,
				 purchased_quantity, consumed_quantity, real_purchase_price)
			VALUES ($1, $2, $3, $4, $5, 0, 0, NULL)
			ON CONFLICT (list_id, material_id) DO UPDATE SET
				required_quantity = EXCLUDED.required_quantity,
				available_at_creation = EXCLUDED.available_at_creation,
				shortfall = EXCLUDED.shortfall,
				purchased_quantity = 0,
				consumed_quantity = 0,
				real_purchase_price = NULL
		`, listID, s.MaterialID, s.Required, s.AvailableAtCreation, s.Shortfall); err != nil {
			return fmt.Errorf("failed to upsert material summary for %s: %w", s.MaterialCode, err)
		}
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM material_summaries WHERE list_id = $1 AND NOT (material_id = ANY($2))", listID, keep); err != nil {
		return fmt.Errorf("failed to prune material summary: %w", err)
	}
	if _, err := tx.Exec(ctx, "UPDATE production_lists SET updated_at = NOW() WHERE id = $1", listID); err != nil {
		return fmt.Errorf("failed to touch production list: %w", err)
	}
	return nil
}

// ── Transitions ───────────────────────────────────────────────────────────────

// transition locks the list, checks the requested edge and runs apply before
// writing the new state. A list already in target is returned unchanged.
func (e *productionEngine) transition(ctx context.Context, id int, target ListState, actor string,
	apply func(tx pgx.Tx, l *ProductionList) error) (*ProductionList, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, validation("actor is required")
	}

	var (
		out  *ProductionList
		from ListState
		noop bool
	)
	err := e.db.inTx(ctx, func(tx pgx.Tx) error {
		l, err := loadList(ctx, tx, id, true)
		if err != nil {
			return err
		}
		from = l.State
		noop, err = checkTransition(l.State, target)
		if err != nil {
			return err
		}
		if noop {
			out = l
			return nil
		}
		if err := apply(tx, l); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			"UPDATE production_lists SET state = $1, updated_at = NOW() WHERE id = $2", target, id); err != nil {
			return fmt.Errorf("failed to update list state: %w", err)
		}
		out, err = loadList(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	if noop {
		log.Debug().Int("list_id", id).Str("state", string(from)).Str("actor", actor).Msg("transition already applied")
	} else {
		log.Info().Int("list_id", id).Str("from", string(from)).Str("to", string(target)).Str("actor", actor).
			Msg("production list transition")
	}
	return out, nil
}

func (e *productionEngine) RequestPurchase(ctx context.Context, id int, actor string) (*ProductionList, error) {
	return e.transition(ctx, id, StatePendingPurchase, actor, func(tx pgx.Tx, l *ProductionList) error {
		if err := recomputeSummary(ctx, tx, l.ID); err != nil {
			return err
		}
		summary, err := loadSummary(ctx, tx, l.ID)
		if err != nil {
			return err
		}
		l.Summary = summary
		if !l.HasShortfall() {
			return validation("list %d has no shortfall; start production directly", l.ID)
		}
		return nil
	})
}

func (e *productionEngine) RecordPurchase(ctx context.Context, id int, purchases []PurchaseInput, actor string) (*ProductionList, error) {
	byCode := make(map[string]PurchaseInput, len(purchases))
	for _, p := range purchases {
		code := normalizeCode(p.MaterialCode)
		if code == "" {
			return nil, validation("purchase material code is required")
		}
		if p.Quantity < 0 {
			return nil, validation("purchased quantity for %s cannot be negative, got %d", code, p.Quantity)
		}
		if p.RealPurchasePrice != nil && p.RealPurchasePrice.IsNegative() {
			return nil, validation("real purchase price for %s cannot be negative", code)
		}
		if _, dup := byCode[code]; dup {
			return nil, validation("material %s is listed more than once", code)
		}
		byCode[code] = p
	}

	return e.transition(ctx, id, StatePurchased, actor, func(tx pgx.Tx, l *ProductionList) error {
		inSummary := make(map[string]bool, len(l.Summary))
		for _, s := range l.Summary {
			inSummary[s.MaterialCode] = true
		}
		for code := range byCode {
			if !inSummary[code] {
				return validation("material %s is not part of list %d", code, l.ID)
			}
		}

		for _, s := range l.Summary {
			qty := SuggestedPurchase(s)
			var price *decimal.Decimal
			if p, ok := byCode[s.MaterialCode]; ok {
				qty = p.Quantity
				if p.RealPurchasePrice != nil {
					rounded := p.RealPurchasePrice.Round(2)
					price = &rounded
				}
			}
			if _, err := tx.Exec(ctx, `
				UPDATE material_summaries SET purchased_quantity = $1, real_purchase_price = $2 WHERE id = $3
			`, qty, price, s.ID); err != nil {
				return fmt.Errorf("failed to record purchase for %s: %w", s.MaterialCode, err)
			}
		}
		return nil
	})
}

func (e *productionEngine) Restock(ctx context.Context, id int, opts RestockOptions, actor string) (*ProductionList, error) {
	return e.transition(ctx, id, StateRestocked, actor, func(tx pgx.Tx, l *ProductionList) error {
		listID := l.ID
		for _, s := range l.Summary {
			if s.Purchased <= 0 {
				continue
			}
			mv, err := e.inventory.RecordTx(ctx, tx, MovementInput{
				MaterialID:       s.MaterialID,
				Kind:             MovementEntry,
				Quantity:         s.Purchased,
				Detail:           "list procurement " + l.Name,
				Actor:            actor,
				ProductionListID: &listID,
			})
			if err != nil {
				return err
			}

			if opts.RecordCashEgress && s.RealPurchasePrice != nil && s.RealPurchasePrice.IsPositive() {
				movementID := mv.ID
				if _, err := e.cash.RecordTx(ctx, tx, CashInput{
					Kind:                CashEgress,
					Category:            CategoryRestock,
					Amount:              *s.RealPurchasePrice,
					Concept:             fmt.Sprintf("Purchase of %s for list %s", s.MaterialCode, l.Name),
					Actor:               actor,
					IsAutomatic:         true,
					InventoryMovementID: &movementID,
					ProductionListID:    &listID,
				}); err != nil {
					return err
				}
			}

			if price, ok := RestockPrice(s); ok {
				if _, err := tx.Exec(ctx,
					"UPDATE materials SET purchase_price = $1, updated_at = NOW() WHERE id = $2",
					price, s.MaterialID); err != nil {
					return fmt.Errorf("failed to update purchase price of %s: %w", s.MaterialCode, err)
				}
			}
		}
		return nil
	})
}

func (e *productionEngine) StartProduction(ctx context.Context, id int, actor string) (*ProductionList, error) {
	return e.transition(ctx, id, StateInDelivery, actor, func(tx pgx.Tx, l *ProductionList) error {
		if l.State == StateDraft {
			if err := recomputeSummary(ctx, tx, l.ID); err != nil {
				return err
			}
			summary, err := loadSummary(ctx, tx, l.ID)
			if err != nil {
				return err
			}
			l.Summary = summary
		} else {
			current, err := requirementsFor(ctx, tx, l.Bows)
			if err != nil {
				return err
			}
			ids := mapKeys(current)
			for _, s := range l.Summary {
				if _, ok := current[s.MaterialID]; !ok {
					ids = append(ids, s.MaterialID)
				}
			}
			materials, err := lockMaterials(ctx, tx, ids)
			if err != nil {
				return err
			}
			if drift := RecipeDrift(current, l.Summary, materials); len(drift) > 0 {
				return validation("recipes changed since list %d was planned, requirements differ for: %s",
					l.ID, strings.Join(drift, ", "))
			}
		}

		required := make(map[int]int64, len(l.Summary))
		for _, s := range l.Summary {
			required[s.MaterialID] = s.Required
		}
		materials, err := lockMaterials(ctx, tx, mapKeys(required))
		if err != nil {
			return err
		}
		if shortages := Shortages(required, materials); len(shortages) > 0 {
			return insufficientStock(shortages)
		}

		listID := l.ID
		for _, s := range l.Summary {
			if s.Required <= 0 {
				continue
			}
			if _, err := e.inventory.RecordTx(ctx, tx, MovementInput{
				MaterialID:       s.MaterialID,
				Kind:             MovementExit,
				Quantity:         s.Required,
				Detail:           "production " + l.Name,
				Actor:            actor,
				ProductionListID: &listID,
			}); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				"UPDATE material_summaries SET consumed_quantity = $1 WHERE id = $2", s.Required, s.ID); err != nil {
				return fmt.Errorf("failed to record consumption of %s: %w", s.MaterialCode, err)
			}
		}

		if _, err := tx.Exec(ctx,
			"UPDATE planned_bows SET produced_count = planned_count WHERE list_id = $1", l.ID); err != nil {
			return fmt.Errorf("failed to set produced counts: %w", err)
		}
		return nil
	})
}

func (e *productionEngine) SetProducedCount(ctx context.Context, id int, bowCode string, produced int, actor string) (*ProductionList, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, validation("actor is required")
	}
	var out *ProductionList
	err := e.db.inTx(ctx, func(tx pgx.Tx) error {
		l, err := loadList(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if l.State != StateInDelivery {
			return validation("produced counts can only change while the list is in_delivery, list %d is %s", id, l.State)
		}
		code := normalizeCode(bowCode)
		var row *PlannedBow
		for i := range l.Bows {
			if l.Bows[i].BowCode == code {
				row = &l.Bows[i]
				break
			}
		}
		if row == nil {
			return notFound("bow %s is not planned in list %d", code, id)
		}
		if produced < 0 || produced > row.PlannedCount {
			return validation("produced count for %s must be between 0 and %d, got %d", code, row.PlannedCount, produced)
		}
		if _, err := tx.Exec(ctx, "UPDATE planned_bows SET produced_count = $1 WHERE id = $2", produced, row.ID); err != nil {
			return fmt.Errorf("failed to update produced count: %w", err)
		}
		if _, err := tx.Exec(ctx, "UPDATE production_lists SET updated_at = NOW() WHERE id = $1", id); err != nil {
			return fmt.Errorf("failed to touch production list: %w", err)
		}
		out, err = loadList(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info().Int("list_id", id).Str("bow", normalizeCode(bowCode)).Int("produced", produced).Str("actor", actor).
		Msg("produced count updated")
	return out, nil
}

func (e *productionEngine) Finalize(ctx context.Context, id int, actor string) (*ProductionList, error) {
	return e.transition(ctx, id, StateFinalized, actor, func(tx pgx.Tx, l *ProductionList) error {
		var sold []PlannedBow
		for _, p := range l.Bows {
			if p.ProducedCount > 0 {
				sold = append(sold, p)
			}
		}
		if len(sold) == 0 {
			return validation("list %d has no produced bows to sell", l.ID)
		}

		ids := make([]int, len(sold))
		for i, p := range sold {
			ids[i] = p.BowID
		}
		recipes, err := loadRecipes(ctx, tx, ids)
		if err != nil {
			return err
		}
		var missing []string
		for _, p := range sold {
			if len(recipes[p.BowID]) == 0 {
				missing = append(missing, p.BowCode)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return missingRecipe(missing)
		}

		var at time.Time
		if err := tx.QueryRow(ctx, "SELECT NOW()").Scan(&at); err != nil {
			return fmt.Errorf("failed to read transaction time: %w", err)
		}

		total := decimal.Zero
		for _, p := range sold {
			rec := NewSaleRecord(p, ProductionCost(recipes[p.BowID]), actor, at)
			if _, err := tx.Exec(ctx, `
				INSERT INTO sale_records
					(list_id, bow_id, quantity_sold, sale_mode_at_sale, unit_price, total_revenue,
					 unit_cost, total_profit, actor, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			`, rec.ListID, rec.BowID, rec.QuantitySold, rec.SaleMode, rec.UnitPrice, rec.TotalRevenue,
				rec.UnitCost, rec.TotalProfit, rec.Actor, rec.CreatedAt); err != nil {
				return fmt.Errorf("failed to insert sale record for %s: %w", p.BowCode, err)
			}
			total = total.Add(rec.TotalRevenue)
		}
		if !total.IsPositive() {
			return validation("list %d has no revenue to record", l.ID)
		}

		listID := l.ID
		if _, err := e.cash.RecordTx(ctx, tx, CashInput{
			Kind:             CashIngress,
			Category:         CategorySale,
			Amount:           total,
			Concept:          SaleConcept(l.Name),
			Actor:            actor,
			IsAutomatic:      true,
			ProductionListID: &listID,
		}); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, "UPDATE production_lists SET finalized_at = $1 WHERE id = $2", at, l.ID); err != nil {
			return fmt.Errorf("failed to stamp finalization: %w", err)
		}
		return nil
	})
}

func (e *productionEngine) Archive(ctx context.Context, id int, actor string) (*ProductionList, error) {
	return e.transition(ctx, id, StateArchived, actor, func(pgx.Tx, *ProductionList) error { return nil })
}

func (e *productionEngine) Advance(ctx context.Context, id int, target ListState, actor string) (*ProductionList, error) {
	switch target {
	case StatePendingPurchase:
		return e.RequestPurchase(ctx, id, actor)
	case StatePurchased:
		return e.RecordPurchase(ctx, id, nil, actor)
	case StateRestocked:
		return e.Restock(ctx, id, RestockOptions{}, actor)
	case StateInDelivery:
		return e.StartProduction(ctx, id, actor)
	case StateFinalized:
		return e.Finalize(ctx, id, actor)
	case StateArchived:
		return e.Archive(ctx, id, actor)
	case StateDraft:
		l, err := e.GetList(ctx, id)
		if err != nil {
			return nil, err
		}
		if _, err := checkTransition(l.State, StateDraft); err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, validation("unknown list state %q", target)
}
