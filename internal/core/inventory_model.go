package core

import (
	"strings"
	"time"
)

// MovementKind classifies an inventory movement.
type MovementKind string

const (
	MovementEntry      MovementKind = "entry"
	MovementExit       MovementKind = "exit"
	MovementAdjustment MovementKind = "adjustment"
)

func (k MovementKind) Valid() bool {
	switch k {
	case MovementEntry, MovementExit, MovementAdjustment:
		return true
	}
	return false
}

// InventoryMovement is one append-only stock change. Quantity is signed:
// entries are positive, exits negative, adjustments either.
type InventoryMovement struct {
	ID               int64
	MaterialID       int
	MaterialCode     string
	Kind             MovementKind
	Quantity         int64
	StockBefore      int64
	StockAfter       int64
	Detail           string
	Actor            string
	ProductionListID *int
	CreatedAt        time.Time
}

// MovementInput requests a stock change. MaterialID wins over MaterialCode when set.
// Entry and exit take a positive Quantity; adjustment takes a signed non-zero one.
type MovementInput struct {
	MaterialID       int
	MaterialCode     string
	Kind             MovementKind
	Quantity         int64
	Detail           string
	Actor            string
	ProductionListID *int
}

// SignedQuantity validates the input and returns the quantity as it is stored.
func (in MovementInput) SignedQuantity() (int64, error) {
	if in.MaterialID <= 0 && strings.TrimSpace(in.MaterialCode) == "" {
		return 0, validation("material is required")
	}
	switch in.Kind {
	case MovementEntry:
		if in.Quantity <= 0 {
			return 0, validation("entry quantity must be positive, got %d", in.Quantity)
		}
		return in.Quantity, nil
	case MovementExit:
		if in.Quantity <= 0 {
			return 0, validation("exit quantity must be positive, got %d", in.Quantity)
		}
		return -in.Quantity, nil
	case MovementAdjustment:
		if in.Quantity == 0 {
			return 0, validation("adjustment quantity cannot be zero")
		}
		return in.Quantity, nil
	default:
		return 0, validation("movement kind must be entry, exit or adjustment, got %q", in.Kind)
	}
}

// MovementFilter narrows History results. Zero fields are ignored; To is exclusive.
type MovementFilter struct {
	MaterialCode     string
	Kind             MovementKind
	ProductionListID *int
	From             *time.Time
	To               *time.Time
	Limit            int
}
