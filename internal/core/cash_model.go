package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// CashKind is the direction of a cash movement.
type CashKind string

const (
	CashIngress CashKind = "ingress"
	CashEgress  CashKind = "egress"
)

func (k CashKind) Valid() bool {
	return k == CashIngress || k == CashEgress
}

// Categories written by the core itself. Manual movements may use any non-empty category.
const (
	CategorySale    = "sale"
	CategoryRestock = "restock"
)

// CashMovement is one append-only cash ledger row.
type CashMovement struct {
	ID                  int64
	Kind                CashKind
	Category            string
	Amount              decimal.Decimal
	Concept             string
	Actor               string
	IsAutomatic         bool
	BalanceBefore       decimal.Decimal
	BalanceAfter        decimal.Decimal
	InventoryMovementID *int64
	ProductionListID    *int
	CreatedAt           time.Time
}

// CashInput requests a cash movement. Amount is rounded to cents and must stay positive.
type CashInput struct {
	Kind                CashKind
	Category            string
	Amount              decimal.Decimal
	Concept             string
	Actor               string
	IsAutomatic         bool
	InventoryMovementID *int64
	ProductionListID    *int
}

// NextBalance applies one movement to a running balance.
func NextBalance(before decimal.Decimal, kind CashKind, amount decimal.Decimal) decimal.Decimal {
	if kind == CashEgress {
		return before.Sub(amount)
	}
	return before.Add(amount)
}

// DateRange bounds a query. Nil ends are open; To is exclusive.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// CategoryTotal is one line of the by-category breakdown.
type CategoryTotal struct {
	Category string
	Kind     CashKind
	Total    decimal.Decimal
	Count    int
}

// CashSummary aggregates cash movements over a range.
type CashSummary struct {
	Range        DateRange
	IngressTotal decimal.Decimal
	EgressTotal  decimal.Decimal
	Net          decimal.Decimal
	ByCategory   []CategoryTotal
}

// Bucket is the period granularity of a cash series.
type Bucket string

const (
	BucketDay   Bucket = "day"
	BucketMonth Bucket = "month"
)

func (b Bucket) Valid() bool {
	return b == BucketDay || b == BucketMonth
}

// SeriesPoint is the cash activity of one period.
type SeriesPoint struct {
	Period  time.Time
	Ingress decimal.Decimal
	Egress  decimal.Decimal
	Net     decimal.Decimal
}

// CashFilter drives the cash-flow export.
type CashFilter struct {
	Category   string
	Kind       CashKind
	Range      DateRange
	Descending bool
	Limit      int
}
