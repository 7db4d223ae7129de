package core

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ComputeRequirements expands planned bows through their recipes into per-material
// quantities. A pair-mode bow is one assembly, so the planned count is used as is.
// Bows with no recipe rows are returned in missing, sorted by code.
func ComputeRequirements(planned []PlannedBow, recipes map[int][]RecipeRow) (required map[int]int64, missing []string) {
	required = make(map[int]int64)
	for _, p := range planned {
		rows := recipes[p.BowID]
		if len(rows) == 0 {
			missing = append(missing, p.BowCode)
			continue
		}
		for _, r := range rows {
			required[r.MaterialID] += r.QuantityPerBow * int64(p.PlannedCount)
		}
	}
	sort.Strings(missing)
	return required, missing
}

// Shortfall is max(0, required − available).
func Shortfall(required, available int64) int64 {
	if required > available {
		return required - available
	}
	return 0
}

// BuildSummary turns requirements into summary rows against the given material
// snapshot, sorted by material code. Materials with zero requirement are omitted.
func BuildSummary(required map[int]int64, materials map[int]Material) []MaterialSummary {
	out := make([]MaterialSummary, 0, len(required))
	for id, qty := range required {
		if qty <= 0 {
			continue
		}
		m := materials[id]
		out = append(out, MaterialSummary{
			MaterialID:          id,
			MaterialCode:        m.Code,
			MaterialName:        m.Name,
			ContainerType:       m.ContainerType,
			ConversionFactor:    m.ConversionFactor,
			PurchasePrice:       m.PurchasePrice,
			Required:            qty,
			AvailableAtCreation: m.StockOnHand,
			Shortfall:           Shortfall(qty, m.StockOnHand),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaterialCode < out[j].MaterialCode })
	return out
}

// ContainersNeeded is ceil(shortfall / conversionFactor).
func ContainersNeeded(shortfall int64, conversionFactor int) int64 {
	if shortfall <= 0 || conversionFactor <= 0 {
		return 0
	}
	f := int64(conversionFactor)
	return (shortfall + f - 1) / f
}

// BuildShoppingList derives the purchase suggestion from summary rows with a shortfall.
func BuildShoppingList(summary []MaterialSummary) []ShoppingListItem {
	var out []ShoppingListItem
	for _, s := range summary {
		if s.Shortfall <= 0 {
			continue
		}
		containers := ContainersNeeded(s.Shortfall, s.ConversionFactor)
		out = append(out, ShoppingListItem{
			MaterialCode:     s.MaterialCode,
			MaterialName:     s.MaterialName,
			ContainerType:    s.ContainerType,
			ConversionFactor: s.ConversionFactor,
			Shortfall:        s.Shortfall,
			ContainersNeeded: containers,
			EstimatedCost:    s.PurchasePrice.Mul(decimal.NewFromInt(containers)).Round(2),
		})
	}
	return out
}

// SuggestedPurchase is the quantity in base units a full-container purchase yields.
func SuggestedPurchase(s MaterialSummary) int64 {
	return ContainersNeeded(s.Shortfall, s.ConversionFactor) * int64(s.ConversionFactor)
}

// RestockPrice derives the new per-container price from what a row actually cost.
// ok is false when the row carries no usable price.
func RestockPrice(s MaterialSummary) (price decimal.Decimal, ok bool) {
	if s.RealPurchasePrice == nil || s.Purchased <= 0 || s.ConversionFactor <= 0 {
		return decimal.Zero, false
	}
	return s.RealPurchasePrice.
		Mul(decimal.NewFromInt(int64(s.ConversionFactor))).
		DivRound(decimal.NewFromInt(s.Purchased), 2), true
}

// RecipeDrift lists the codes of materials whose requirement under the current
// recipes differs from the frozen summary, sorted.
func RecipeDrift(required map[int]int64, summary []MaterialSummary, materials map[int]Material) []string {
	frozen := make(map[int]int64, len(summary))
	var drift []string
	for _, s := range summary {
		frozen[s.MaterialID] = s.Required
		if s.Required != required[s.MaterialID] {
			drift = append(drift, s.MaterialCode)
		}
	}
	for id, qty := range required {
		if _, ok := frozen[id]; !ok && qty != 0 {
			drift = append(drift, materials[id].Code)
		}
	}
	sort.Strings(drift)
	return drift
}

// Shortages lists the materials whose current stock cannot cover required, sorted by code.
func Shortages(required map[int]int64, materials map[int]Material) []StockShortage {
	var out []StockShortage
	for id, qty := range required {
		m := materials[id]
		if qty > m.StockOnHand {
			out = append(out, StockShortage{MaterialCode: m.Code, Required: qty, Available: m.StockOnHand})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaterialCode < out[j].MaterialCode })
	return out
}

// NewSaleRecord snapshots the sale of one planned bow row.
// Revenue is quantity × price; profit subtracts the cost of every bow sold.
func NewSaleRecord(p PlannedBow, productionCost decimal.Decimal, actor string, at time.Time) SaleRecord {
	qty := decimal.NewFromInt(int64(p.ProducedCount))
	revenue := qty.Mul(p.SalePrice).Round(2)
	cost := productionCost.Mul(qty).Mul(decimal.NewFromInt(p.SaleMode.Multiplier()))
	return SaleRecord{
		ListID:       p.ListID,
		BowID:        p.BowID,
		BowCode:      p.BowCode,
		BowName:      p.BowName,
		QuantitySold: p.ProducedCount,
		SaleMode:     p.SaleMode,
		UnitPrice:    p.SalePrice,
		TotalRevenue: revenue,
		UnitCost:     productionCost.Round(4),
		TotalProfit:  revenue.Sub(cost).Round(2),
		Actor:        actor,
		CreatedAt:    at,
	}
}

const saleConceptPrefix = "Sale of production — List: "

// SaleConcept is the concept written on a list's sale ingress.
func SaleConcept(listName string) string {
	return saleConceptPrefix + listName
}

// ParseListName extracts the list name from a sale concept ending in "List: <name>".
func ParseListName(concept string) (string, bool) {
	const marker = "List:"
	i := strings.LastIndex(concept, marker)
	if i < 0 {
		return "", false
	}
	name := strings.TrimSpace(concept[i+len(marker):])
	return name, name != ""
}

// listCandidate is a finalized list considered when attaching a legacy sale.
type listCandidate struct {
	ID          int
	FinalizedAt time.Time
}

// nearestList picks the candidate whose finalization is closest to at.
// Equal distances go to the lowest id.
func nearestList(candidates []listCandidate, at time.Time) (listCandidate, bool) {
	if len(candidates) == 0 {
		return listCandidate{}, false
	}
	best := candidates[0]
	bestDist := absDuration(at.Sub(best.FinalizedAt))
	for _, c := range candidates[1:] {
		d := absDuration(at.Sub(c.FinalizedAt))
		if d < bestDist || (d == bestDist && c.ID < best.ID) {
			best, bestDist = c, d
		}
	}
	return best, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
