package app

import (
	"bow-workshop/internal/core"

	"github.com/shopspring/decimal"
)

// ListsResult is returned by ListLists.
type ListsResult struct {
	Lists []core.ProductionList
}

// ListResult is returned by list operations.
type ListResult struct {
	List *core.ProductionList
}

// ShoppingListResult is returned by ShoppingList.
type ShoppingListResult struct {
	ListID        int
	ListName      string
	State         core.ListState
	Currency      string
	Items         []core.ShoppingListItem
	EstimatedCost decimal.Decimal
}

// CashSummaryResult is returned by CashSummary.
type CashSummaryResult struct {
	CompanyName string
	Currency    string
	Summary     *core.CashSummary
	Balance     decimal.Decimal
}

// CashExportResult is returned by CashExport.
type CashExportResult struct {
	Currency  string
	Movements []core.CashMovement
}

// SalesReportResult is returned by SalesReport.
type SalesReportResult struct {
	Currency string
	ByMonth  []core.MonthlySales
	ByBow    []core.BowSales
}

// LowStockResult is returned by LowStock.
type LowStockResult struct {
	Threshold int64
	Materials []core.Material
}
