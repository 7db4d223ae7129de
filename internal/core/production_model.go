package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ListState is the lifecycle state of a production list.
type ListState string

const (
	StateDraft           ListState = "draft"
	StatePendingPurchase ListState = "pending_purchase"
	StatePurchased       ListState = "purchased"
	StateRestocked       ListState = "restocked"
	StateInDelivery      ListState = "in_delivery"
	StateFinalized       ListState = "finalized"
	StateArchived        ListState = "archived"
)

// transitions is the adjacency table of the list state machine.
var transitions = map[ListState][]ListState{
	StateDraft:           {StatePendingPurchase, StateInDelivery},
	StatePendingPurchase: {StatePurchased},
	StatePurchased:       {StateRestocked},
	StateRestocked:       {StateInDelivery},
	StateInDelivery:      {StateFinalized},
	StateFinalized:       {StateArchived},
}

func (s ListState) Valid() bool {
	switch s {
	case StateDraft, StatePendingPurchase, StatePurchased, StateRestocked,
		StateInDelivery, StateFinalized, StateArchived:
		return true
	}
	return false
}

// Next returns the states reachable from s in one step.
func (s ListState) Next() []ListState {
	return transitions[s]
}

// CanTransition reports whether from → to is an edge of the state machine.
func CanTransition(from, to ListState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// checkTransition decides what a request to move a list from current to target means.
// It returns noop=true when the list is already in target, so the caller can re-drive safely.
func checkTransition(current, target ListState) (noop bool, err error) {
	if current == target {
		switch target {
		case StateFinalized:
			return false, newError(CodeAlreadyFinalized, "list is already finalized")
		case StateArchived:
			return false, newError(CodeAlreadyArchived, "list is already archived")
		}
		return true, nil
	}
	if CanTransition(current, target) {
		return false, nil
	}
	switch current {
	case StateFinalized:
		return false, newError(CodeAlreadyFinalized, "list is finalized; only archive is allowed, not %s", target)
	case StateArchived:
		return false, newError(CodeAlreadyArchived, "list is archived; no further transitions")
	}
	return false, newError(CodeIllegalTransition, "cannot move list from %s to %s", current, target)
}

// ProductionList is the unit of planning and execution.
type ProductionList struct {
	ID          int
	Name        string
	Description string
	State       ListState
	Creator     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinalizedAt *time.Time
	Bows        []PlannedBow
	Summary     []MaterialSummary
}

// HasShortfall reports whether any summary row needs procurement.
func (l ProductionList) HasShortfall() bool {
	for _, s := range l.Summary {
		if s.Shortfall > 0 {
			return true
		}
	}
	return false
}

// PlannedBow is one bow line of a list.
type PlannedBow struct {
	ID            int
	ListID        int
	BowID         int
	BowCode       string
	BowName       string
	SaleMode      SaleMode
	SalePrice     decimal.Decimal
	PlannedCount  int
	ProducedCount int
}

// EffectiveUnits is the number of individual bows the planned count represents.
// It counts sales units, not assemblies: material consumption ignores it.
func (p PlannedBow) EffectiveUnits() int64 {
	return int64(p.PlannedCount) * p.SaleMode.Multiplier()
}

// MaterialSummary is the per-material requirement row of a list.
type MaterialSummary struct {
	ID                  int
	ListID              int
	MaterialID          int
	MaterialCode        string
	MaterialName        string
	ContainerType       ContainerType
	ConversionFactor    int
	PurchasePrice       decimal.Decimal
	Required            int64
	AvailableAtCreation int64
	Shortfall           int64
	Purchased           int64
	Consumed            int64
	RealPurchasePrice   *decimal.Decimal
}

// PlannedBowInput names a bow by code with its planned count.
type PlannedBowInput struct {
	BowCode string
	Count   int
}

// ListInput holds the fields for creating or editing a draft list.
type ListInput struct {
	Name        string
	Description string
	Actor       string
	Bows        []PlannedBowInput
}

func (in *ListInput) Normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Actor = strings.TrimSpace(in.Actor)
	for i := range in.Bows {
		in.Bows[i].BowCode = strings.ToUpper(strings.TrimSpace(in.Bows[i].BowCode))
	}
}

func (in ListInput) Validate() error {
	if in.Name == "" {
		return validation("list name is required")
	}
	if in.Actor == "" {
		return validation("actor is required")
	}
	seen := make(map[string]bool, len(in.Bows))
	for _, b := range in.Bows {
		if b.BowCode == "" {
			return validation("planned bow code is required")
		}
		if b.Count < 0 {
			return validation("planned count for %s cannot be negative, got %d", b.BowCode, b.Count)
		}
		if seen[b.BowCode] {
			return validation("bow %s is planned more than once", b.BowCode)
		}
		seen[b.BowCode] = true
	}
	return nil
}

// PurchaseInput records what was actually bought for one material of a list.
// RealPurchasePrice is the total paid for the row.
type PurchaseInput struct {
	MaterialCode      string
	Quantity          int64
	RealPurchasePrice *decimal.Decimal
}

// RestockOptions controls the side effects of the restock transition.
type RestockOptions struct {
	// RecordCashEgress emits one restock egress per row with a real purchase price.
	RecordCashEgress bool
}

// ShoppingListItem is one row of the derived shopping list.
type ShoppingListItem struct {
	MaterialCode     string
	MaterialName     string
	ContainerType    ContainerType
	ConversionFactor int
	Shortfall        int64
	ContainersNeeded int64
	EstimatedCost    decimal.Decimal
}

// SaleRecord is one bow's contribution to a finalized list's revenue.
type SaleRecord struct {
	ID           int64
	ListID       int
	BowID        int
	BowCode      string
	BowName      string
	QuantitySold int
	SaleMode     SaleMode
	UnitPrice    decimal.Decimal
	TotalRevenue decimal.Decimal
	UnitCost     decimal.Decimal
	TotalProfit  decimal.Decimal
	Actor        string
	CreatedAt    time.Time
}

// ListFilter narrows ListLists. The zero value returns every list.
type ListFilter struct {
	State ListState
	Name  string
}
