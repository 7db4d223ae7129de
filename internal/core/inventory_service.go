package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// InventoryLedger is the single write path for stock changes. Every change appends
// a movement and updates materials.stock_on_hand in the same transaction.
type InventoryLedger interface {
	// Record appends one movement in its own transaction and returns it.
	Record(ctx context.Context, in MovementInput) (*InventoryMovement, error)
	// History returns movements matching filter, ordered by id.
	History(ctx context.Context, filter MovementFilter) ([]InventoryMovement, error)

	// RecordTx appends one movement inside a caller-provided transaction.
	// Used by the production engine and material catalog to stay atomic with their own writes.
	RecordTx(ctx context.Context, tx pgx.Tx, in MovementInput) (*InventoryMovement, error)
}

type inventoryLedger struct {
	db *DB
}

func NewInventoryLedger(db *DB) InventoryLedger {
	return &inventoryLedger{db: db}
}

func (l *inventoryLedger) Record(ctx context.Context, in MovementInput) (*InventoryMovement, error) {
	var m *InventoryMovement
	err := l.db.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		m, err = l.RecordTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (l *inventoryLedger) RecordTx(ctx context.Context, tx pgx.Tx, in MovementInput) (*InventoryMovement, error) {
	qty, err := in.SignedQuantity()
	if err != nil {
		return nil, err
	}

	var (
		materialID int
		code       string
		stock      int64
	)
	if in.MaterialID > 0 {
		err = tx.QueryRow(ctx,
			"SELECT id, code, stock_on_hand FROM materials WHERE id = $1 FOR UPDATE",
			in.MaterialID).Scan(&materialID, &code, &stock)
	} else {
		err = tx.QueryRow(ctx,
			"SELECT id, code, stock_on_hand FROM materials WHERE code = $1 FOR UPDATE",
			strings.ToUpper(strings.TrimSpace(in.MaterialCode))).Scan(&materialID, &code, &stock)
	}
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("material %s%s not found", in.MaterialCode, idSuffix(in.MaterialID))
		}
		return nil, fmt.Errorf("failed to lock material: %w", err)
	}

	after := stock + qty
	if after < 0 {
		return nil, insufficientStock([]StockShortage{{MaterialCode: code, Required: -qty, Available: stock}})
	}

	m := &InventoryMovement{
		MaterialID:       materialID,
		MaterialCode:     code,
		Kind:             in.Kind,
		Quantity:         qty,
		StockBefore:      stock,
		StockAfter:       after,
		Detail:           strings.TrimSpace(in.Detail),
		Actor:            strings.TrimSpace(in.Actor),
		ProductionListID: in.ProductionListID,
	}

	// created_at never goes backwards relative to earlier movements, so timestamp
	// order agrees with commit order.
	err = tx.QueryRow(ctx, `
		INSERT INTO inventory_movements
			(material_id, kind, quantity, stock_before, stock_after, detail, actor, production_list_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			GREATEST(clock_timestamp(), COALESCE((SELECT MAX(created_at) FROM inventory_movements), clock_timestamp())))
		RETURNING id, created_at
	`, m.MaterialID, m.Kind, m.Quantity, m.StockBefore, m.StockAfter, m.Detail, m.Actor, m.ProductionListID,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert inventory movement: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE materials SET stock_on_hand = $1, updated_at = NOW() WHERE id = $2",
		after, materialID); err != nil {
		return nil, fmt.Errorf("failed to update stock on hand: %w", err)
	}
	return m, nil
}

func (l *inventoryLedger) History(ctx context.Context, filter MovementFilter) ([]InventoryMovement, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.MaterialCode != "" {
		add("m.code = $%d", strings.ToUpper(strings.TrimSpace(filter.MaterialCode)))
	}
	if filter.Kind != "" {
		if !filter.Kind.Valid() {
			return nil, validation("unknown movement kind %q", filter.Kind)
		}
		add("im.kind = $%d", string(filter.Kind))
	}
	if filter.ProductionListID != nil {
		add("im.production_list_id = $%d", *filter.ProductionListID)
	}
	if filter.From != nil {
		add("im.created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("im.created_at < $%d", *filter.To)
	}

	sql := `
		SELECT im.id, im.material_id, m.code, im.kind, im.quantity, im.stock_before, im.stock_after,
		       im.detail, im.actor, im.production_list_id, im.created_at
		FROM inventory_movements im
		JOIN materials m ON m.id = im.material_id`
	if len(where) > 0 {
		sql += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	sql += "\n\t\tORDER BY im.id"
	if filter.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := l.db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query inventory movements: %w", err)
	}
	defer rows.Close()

	var out []InventoryMovement
	for rows.Next() {
		var m InventoryMovement
		if err := rows.Scan(&m.ID, &m.MaterialID, &m.MaterialCode, &m.Kind, &m.Quantity,
			&m.StockBefore, &m.StockAfter, &m.Detail, &m.Actor, &m.ProductionListID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inventory movement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func idSuffix(id int) string {
	if id <= 0 {
		return ""
	}
	return fmt.Sprintf("#%d", id)
}
