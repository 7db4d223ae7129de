package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// CashLedger appends cash movements with a stored running balance.
// Appends are serialized on the ledger tail with a transaction-scoped advisory lock.
type CashLedger interface {
	// Record appends one movement in its own transaction.
	Record(ctx context.Context, in CashInput) (*CashMovement, error)
	// Balance returns the balance_after of the most recent movement, or zero.
	Balance(ctx context.Context) (decimal.Decimal, error)
	// Summary returns ingress/egress totals and a per-category breakdown over r.
	Summary(ctx context.Context, r DateRange) (*CashSummary, error)
	// Series buckets cash activity by day or month over r.
	Series(ctx context.Context, bucket Bucket, r DateRange) ([]SeriesPoint, error)
	// Export returns the chronological cash-flow listing with stored running balances.
	Export(ctx context.Context, filter CashFilter) ([]CashMovement, error)

	// RecordTx appends one movement inside a caller-provided transaction.
	RecordTx(ctx context.Context, tx pgx.Tx, in CashInput) (*CashMovement, error)
}

type cashLedger struct {
	db             *DB
	allowOverdraft bool
}

// NewCashLedger returns a ledger. With allowOverdraft false, an egress that would
// take the balance below zero fails with NEGATIVE_BALANCE.
func NewCashLedger(db *DB, allowOverdraft bool) CashLedger {
	return &cashLedger{db: db, allowOverdraft: allowOverdraft}
}

func (l *cashLedger) Record(ctx context.Context, in CashInput) (*CashMovement, error) {
	var m *CashMovement
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

func (l *cashLedger) RecordTx(ctx context.Context, tx pgx.Tx, in CashInput) (*CashMovement, error) {
	if !in.Kind.Valid() {
		return nil, validation("cash kind must be ingress or egress, got %q", in.Kind)
	}
	category := strings.ToLower(strings.TrimSpace(in.Category))
	if category == "" {
		return nil, validation("cash category is required")
	}
	amount := in.Amount.Round(2)
	if !amount.IsPositive() {
		return nil, validation("cash amount must be positive, got %s", in.Amount)
	}
	concept := strings.TrimSpace(in.Concept)
	if concept == "" {
		return nil, validation("cash concept is required")
	}

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", cashLedgerLockKey); err != nil {
		return nil, fmt.Errorf("failed to lock cash ledger: %w", err)
	}

	before, err := tailBalance(ctx, tx)
	if err != nil {
		return nil, err
	}
	after := NextBalance(before, in.Kind, amount)
	if after.IsNegative() && !l.allowOverdraft {
		return nil, newError(CodeNegativeBalance,
			"egress of %s would take the balance from %s to %s", amount.StringFixed(2), before.StringFixed(2), after.StringFixed(2))
	}

	m := &CashMovement{
		Kind:                in.Kind,
		Category:            category,
		Amount:              amount,
		Concept:             concept,
		Actor:               strings.TrimSpace(in.Actor),
		IsAutomatic:         in.IsAutomatic,
		BalanceBefore:       before,
		BalanceAfter:        after,
		InventoryMovementID: in.InventoryMovementID,
		ProductionListID:    in.ProductionListID,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO cash_movements
			(kind, category, amount, concept, actor, is_automatic, balance_before, balance_after,
			 inventory_movement_id, production_list_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			GREATEST(clock_timestamp(), COALESCE((SELECT MAX(created_at) FROM cash_movements), clock_timestamp())))
		RETURNING id, created_at
	`, m.Kind, m.Category, m.Amount, m.Concept, m.Actor, m.IsAutomatic, m.BalanceBefore, m.BalanceAfter,
		m.InventoryMovementID, m.ProductionListID,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert cash movement: %w", err)
	}
	return m, nil
}

func tailBalance(ctx context.Context, q querier) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRow(ctx,
		"SELECT balance_after FROM cash_movements ORDER BY created_at DESC, id DESC LIMIT 1",
	).Scan(&balance)
	if err != nil {
		if isNoRows(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to read cash balance: %w", err)
	}
	return balance, nil
}

func (l *cashLedger) Balance(ctx context.Context) (decimal.Decimal, error) {
	return tailBalance(ctx, l.db.pool)
}

// rangeClause renders r against column, appending its bounds to args.
func rangeClause(column string, r DateRange, args []any) (string, []any) {
	var parts []string
	if r.From != nil {
		args = append(args, *r.From)
		parts = append(parts, fmt.Sprintf("%s >= $%d", column, len(args)))
	}
	if r.To != nil {
		args = append(args, *r.To)
		parts = append(parts, fmt.Sprintf("%s < $%d", column, len(args)))
	}
	if len(parts) == 0 {
		return "TRUE", args
	}
	return strings.Join(parts, " AND "), args
}

func (l *cashLedger) Summary(ctx context.Context, r DateRange) (*CashSummary, error) {
	where, args := rangeClause("created_at", r, nil)
	rows, err := l.db.pool.Query(ctx, `
		SELECT category, kind, SUM(amount), COUNT(*)
		FROM cash_movements
		WHERE `+where+`
		GROUP BY category, kind
		ORDER BY category, kind
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash summary: %w", err)
	}
	defer rows.Close()

	s := &CashSummary{Range: r, IngressTotal: decimal.Zero, EgressTotal: decimal.Zero}
	for rows.Next() {
		var ct CategoryTotal
		if err := rows.Scan(&ct.Category, &ct.Kind, &ct.Total, &ct.Count); err != nil {
			return nil, fmt.Errorf("failed to scan cash summary: %w", err)
		}
		if ct.Kind == CashIngress {
			s.IngressTotal = s.IngressTotal.Add(ct.Total)
		} else {
			s.EgressTotal = s.EgressTotal.Add(ct.Total)
		}
		s.ByCategory = append(s.ByCategory, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cash summary: %w", err)
	}
	s.Net = s.IngressTotal.Sub(s.EgressTotal)
	return s, nil
}

func (l *cashLedger) Series(ctx context.Context, bucket Bucket, r DateRange) ([]SeriesPoint, error) {
	if !bucket.Valid() {
		return nil, validation("bucket must be day or month, got %q", bucket)
	}
	args := []any{string(bucket)}
	where, args := rangeClause("created_at", r, args)
	rows, err := l.db.pool.Query(ctx, `
		SELECT date_trunc($1, created_at) AS period,
		       COALESCE(SUM(amount) FILTER (WHERE kind = 'ingress'), 0),
		       COALESCE(SUM(amount) FILTER (WHERE kind = 'egress'), 0)
		FROM cash_movements
		WHERE `+where+`
		GROUP BY period
		ORDER BY period
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash series: %w", err)
	}
	defer rows.Close()

	var out []SeriesPoint
	for rows.Next() {
		var p SeriesPoint
		if err := rows.Scan(&p.Period, &p.Ingress, &p.Egress); err != nil {
			return nil, fmt.Errorf("failed to scan cash series: %w", err)
		}
		p.Net = p.Ingress.Sub(p.Egress)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (l *cashLedger) Export(ctx context.Context, filter CashFilter) ([]CashMovement, error) {
	where, args := rangeClause("created_at", filter.Range, nil)
	if filter.Category != "" {
		args = append(args, strings.ToLower(strings.TrimSpace(filter.Category)))
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.Kind != "" {
		if !filter.Kind.Valid() {
			return nil, validation("cash kind must be ingress or egress, got %q", filter.Kind)
		}
		args = append(args, string(filter.Kind))
		where += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	order := "created_at ASC, id ASC"
	if filter.Descending {
		order = "created_at DESC, id DESC"
	}
	sql := `
		SELECT id, kind, category, amount, concept, actor, is_automatic, balance_before, balance_after,
		       inventory_movement_id, production_list_id, created_at
		FROM cash_movements
		WHERE ` + where + `
		ORDER BY ` + order
	if filter.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := l.db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash movements: %w", err)
	}
	defer rows.Close()

	var out []CashMovement
	for rows.Next() {
		m, err := scanCashMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanCashMovement(row pgx.Row) (CashMovement, error) {
	var m CashMovement
	if err := row.Scan(&m.ID, &m.Kind, &m.Category, &m.Amount, &m.Concept, &m.Actor, &m.IsAutomatic,
		&m.BalanceBefore, &m.BalanceAfter, &m.InventoryMovementID, &m.ProductionListID, &m.CreatedAt); err != nil {
		return m, fmt.Errorf("failed to scan cash movement: %w", err)
	}
	return m, nil
}
