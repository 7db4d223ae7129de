package cli

import (
	"fmt"
	"io"
	"strings"

	"bow-workshop/internal/app"
	"bow-workshop/internal/core"
)

func rule(out io.Writer, ch string) {
	fmt.Fprintln(out, strings.Repeat(ch, 72))
}

func printArchiveReport(out io.Writer, r *core.ArchiveReport) {
	verb := "Archived"
	if r.DryRun {
		verb = "Would archive"
	}
	fmt.Fprintf(out, "%s %d lists finalized before %s\n", verb, len(r.ListIDs), r.Cutoff.Format("2006-01-02 15:04"))
	for _, id := range r.ListIDs {
		fmt.Fprintf(out, "  list %d\n", id)
	}
}

func printLegacyReport(out io.Writer, r *core.LegacySaleReport) {
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(out, "Legacy sales%s: %d examined, %d migrated\n", mode, r.Examined, r.Migrated)
	for _, o := range r.Outcomes {
		if o.Skipped != "" {
			fmt.Fprintf(out, "  cash#%-6d %10s  skipped: %s\n", o.CashMovementID, o.Amount.StringFixed(2), o.Skipped)
			continue
		}
		fmt.Fprintf(out, "  cash#%-6d %10s  -> list %d %q, %d sale records\n",
			o.CashMovementID, o.Amount.StringFixed(2), o.ListID, o.ListName, o.SaleRecords)
	}
}

func printAudit(out io.Writer, r *core.AuditReport) {
	fmt.Fprintf(out, "Checked %d materials, %d cash movements, %d finalized lists\n",
		r.MaterialsChecked, r.CashMovementsChecked, r.ListsChecked)
	if r.OK() {
		fmt.Fprintln(out, "No violations.")
		return
	}
	for _, v := range r.Violations {
		fmt.Fprintf(out, "  [%s] %s: %s\n", v.Check, v.Subject, v.Detail)
	}
}

func printLists(out io.Writer, r *app.ListsResult) {
	rule(out, "=")
	fmt.Fprintf(out, "  %-6s %-30s %-18s %-16s\n", "ID", "NAME", "STATE", "CREATED")
	rule(out, "-")
	for _, l := range r.Lists {
		fmt.Fprintf(out, "  %-6d %-30s %-18s %-16s\n", l.ID, l.Name, l.State, l.CreatedAt.Format("2006-01-02 15:04"))
	}
	rule(out, "=")
}

func printList(out io.Writer, l *core.ProductionList) {
	fmt.Fprintln(out)
	rule(out, "=")
	fmt.Fprintf(out, "  LIST %d: %s\n", l.ID, l.Name)
	fmt.Fprintf(out, "  State   : %s\n", l.State)
	fmt.Fprintf(out, "  Creator : %s\n", l.Creator)
	if l.FinalizedAt != nil {
		fmt.Fprintf(out, "  Final   : %s\n", l.FinalizedAt.Format("2006-01-02 15:04"))
	}
	rule(out, "-")
	fmt.Fprintf(out, "  %-14s %-7s %8s %9s %10s\n", "BOW", "MODE", "PLANNED", "PRODUCED", "EFFECTIVE")
	for _, b := range l.Bows {
		fmt.Fprintf(out, "  %-14s %-7s %8d %9d %10d\n", b.BowCode, b.SaleMode, b.PlannedCount, b.ProducedCount, b.EffectiveUnits())
	}
	rule(out, "-")
	fmt.Fprintf(out, "  %-10s %9s %9s %9s %9s %9s\n", "MATERIAL", "REQUIRED", "AVAIL", "SHORT", "BOUGHT", "USED")
	for _, s := range l.Summary {
		fmt.Fprintf(out, "  %-10s %9d %9d %9d %9d %9d\n",
			s.MaterialCode, s.Required, s.AvailableAtCreation, s.Shortfall, s.Purchased, s.Consumed)
	}
	rule(out, "=")
}

func printShoppingList(out io.Writer, r *app.ShoppingListResult) {
	fmt.Fprintf(out, "Shopping list for %d %q (%s)\n", r.ListID, r.ListName, r.State)
	rule(out, "-")
	fmt.Fprintf(out, "  %-10s %-24s %9s %10s %12s\n", "CODE", "NAME", "SHORT", "CONTAINERS", "EST. COST")
	for _, it := range r.Items {
		fmt.Fprintf(out, "  %-10s %-24s %9d %10d %12s\n",
			it.MaterialCode, it.MaterialName, it.Shortfall, it.ContainersNeeded, r.Currency+it.EstimatedCost.StringFixed(2))
	}
	rule(out, "-")
	fmt.Fprintf(out, "  %-57s %12s\n", "TOTAL", r.Currency+r.EstimatedCost.StringFixed(2))
}

func printCashSummary(out io.Writer, r *app.CashSummaryResult) {
	fmt.Fprintln(out)
	rule(out, "=")
	fmt.Fprintf(out, "  CASH SUMMARY  %s\n", r.CompanyName)
	rule(out, "=")
	fmt.Fprintf(out, "  %-20s %-8s %6s %15s\n", "CATEGORY", "KIND", "COUNT", "TOTAL")
	rule(out, "-")
	for _, c := range r.Summary.ByCategory {
		fmt.Fprintf(out, "  %-20s %-8s %6d %15s\n", c.Category, c.Kind, c.Count, r.Currency+c.Total.StringFixed(2))
	}
	rule(out, "-")
	fmt.Fprintf(out, "  %-36s %15s\n", "Ingress", r.Currency+r.Summary.IngressTotal.StringFixed(2))
	fmt.Fprintf(out, "  %-36s %15s\n", "Egress", r.Currency+r.Summary.EgressTotal.StringFixed(2))
	fmt.Fprintf(out, "  %-36s %15s\n", "Net", r.Currency+r.Summary.Net.StringFixed(2))
	fmt.Fprintf(out, "  %-36s %15s\n", "Current balance", r.Currency+r.Balance.StringFixed(2))
	rule(out, "=")
}

func printCashExport(out io.Writer, r *app.CashExportResult) {
	fmt.Fprintf(out, "  %-16s %-7s %-10s %12s %12s  %s\n", "DATE", "KIND", "CATEGORY", "AMOUNT", "BALANCE", "CONCEPT")
	rule(out, "-")
	for _, m := range r.Movements {
		fmt.Fprintf(out, "  %-16s %-7s %-10s %12s %12s  %s\n",
			m.CreatedAt.Format("2006-01-02 15:04"), m.Kind, m.Category,
			r.Currency+m.Amount.StringFixed(2), r.Currency+m.BalanceAfter.StringFixed(2), m.Concept)
	}
}

func printSalesReport(out io.Writer, r *app.SalesReportResult) {
	fmt.Fprintln(out, "Sales by month")
	rule(out, "-")
	fmt.Fprintf(out, "  %-8s %8s %10s %14s %14s\n", "MONTH", "SOLD", "UNITS", "REVENUE", "PROFIT")
	for _, m := range r.ByMonth {
		fmt.Fprintf(out, "  %-8s %8d %10d %14s %14s\n", m.Month.Format("2006-01"), m.QuantitySold, m.EffectiveUnits,
			r.Currency+m.Revenue.StringFixed(2), r.Currency+m.Profit.StringFixed(2))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Sales by bow")
	rule(out, "-")
	fmt.Fprintf(out, "  %-14s %8s %10s %14s %14s\n", "BOW", "SOLD", "UNITS", "REVENUE", "PROFIT")
	for _, b := range r.ByBow {
		fmt.Fprintf(out, "  %-14s %8d %10d %14s %14s\n", b.BowCode, b.QuantitySold, b.EffectiveUnits,
			r.Currency+b.Revenue.StringFixed(2), r.Currency+b.Profit.StringFixed(2))
	}
}

func printLowStock(out io.Writer, r *app.LowStockResult) {
	fmt.Fprintf(out, "Materials at or below %d base units\n", r.Threshold)
	rule(out, "-")
	for _, m := range r.Materials {
		fmt.Fprintf(out, "  %-10s %-28s %9d %s\n", m.Code, m.Name, m.StockOnHand, m.BaseUnit)
	}
}

func printSettings(out io.Writer, s *core.Settings) {
	fmt.Fprintf(out, "  %-22s %s\n", "Company", s.CompanyName)
	fmt.Fprintf(out, "  %-22s %s\n", "Currency", s.CurrencyLabel)
	fmt.Fprintf(out, "  %-22s %d\n", "Low stock threshold", s.LowStockAlertThreshold)
}
