package app

import (
	"context"

	"bow-workshop/internal/core"
	"bow-workshop/internal/db"
)

// ApplicationService is the single interface the CLI adapter calls.
// It decouples presentation from business logic. Implementations must contain
// no fmt.Println and no display logic of any kind.
type ApplicationService interface {
	// Migrate applies pending schema migrations and reports the schema version.
	Migrate(ctx context.Context) (*db.MigrationStatus, error)

	// LoadSettings returns the business configuration record.
	LoadSettings(ctx context.Context) (*core.Settings, error)
	// UpdateSettings changes the fields set in req and keeps the rest.
	UpdateSettings(ctx context.Context, req UpdateSettingsRequest) (*core.Settings, error)

	// ArchiveOldLists archives finalized lists older than req.Days.
	ArchiveOldLists(ctx context.Context, req ArchiveRequest) (*core.ArchiveReport, error)

	// MigrateLegacySales rebuilds sale records from unlinked historical sale ingresses.
	MigrateLegacySales(ctx context.Context, dryRun bool) (*core.LegacySaleReport, error)

	// SeedCatalog creates the development catalog.
	SeedCatalog(ctx context.Context) (*core.SeedReport, error)

	// Audit checks every ledger invariant.
	Audit(ctx context.Context) (*core.AuditReport, error)

	// ListLists returns production lists, optionally filtered by state.
	ListLists(ctx context.Context, state string) (*ListsResult, error)

	// GetList returns one production list with its planned bows and material summary.
	GetList(ctx context.Context, id int) (*ListResult, error)

	// CreateList creates a draft production list.
	CreateList(ctx context.Context, req CreateListRequest) (*ListResult, error)

	// AdvanceList moves a list to target using the default inputs of that transition.
	AdvanceList(ctx context.Context, id int, target string) (*ListResult, error)

	// ShoppingList returns the purchase suggestion of a list.
	ShoppingList(ctx context.Context, id int) (*ShoppingListResult, error)

	// CashSummary returns totals and the category breakdown over an optional date range.
	CashSummary(ctx context.Context, req DateRangeRequest) (*CashSummaryResult, error)

	// CashExport returns the chronological cash-flow listing.
	CashExport(ctx context.Context, req CashExportRequest) (*CashExportResult, error)

	// SalesReport returns the analytics feed grouped by month and by bow.
	SalesReport(ctx context.Context, req DateRangeRequest) (*SalesReportResult, error)

	// LowStock returns active materials at or below the alert threshold.
	LowStock(ctx context.Context) (*LowStockResult, error)
}
