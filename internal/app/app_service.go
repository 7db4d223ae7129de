package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bow-workshop/internal/core"
	"bow-workshop/internal/db"
	"bow-workshop/migrations"

	"github.com/shopspring/decimal"
)

// Services bundles the core services the application layer coordinates.
type Services struct {
	DB          *core.DB
	Settings    core.SettingsService
	Materials   core.MaterialService
	Bows        core.BowService
	Inventory   core.InventoryLedger
	Cash        core.CashLedger
	Engine      core.ProductionEngine
	Analytics   core.AnalyticsService
	Maintenance core.MaintenanceService
}

type appService struct {
	svc   Services
	actor string
}

// NewAppService constructs an appService that satisfies ApplicationService.
// actor is recorded on every write made through this service.
func NewAppService(svc Services, actor string) ApplicationService {
	return &appService{svc: svc, actor: actor}
}

func (s *appService) Migrate(ctx context.Context) (*db.MigrationStatus, error) {
	return db.Migrate(ctx, s.svc.DB.Pool().Config().ConnString(), migrations.Files)
}

func (s *appService) LoadSettings(ctx context.Context) (*core.Settings, error) {
	settings, err := s.svc.Settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *appService) UpdateSettings(ctx context.Context, req UpdateSettingsRequest) (*core.Settings, error) {
	settings, err := s.svc.Settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if req.CompanyName != nil {
		settings.CompanyName = *req.CompanyName
	}
	if req.CurrencyLabel != nil {
		settings.CurrencyLabel = *req.CurrencyLabel
	}
	if req.LowStockAlertThreshold != nil {
		settings.LowStockAlertThreshold = *req.LowStockAlertThreshold
	}
	saved, err := s.svc.Settings.Save(ctx, settings)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}

func (s *appService) ArchiveOldLists(ctx context.Context, req ArchiveRequest) (*core.ArchiveReport, error) {
	return s.svc.Maintenance.ArchiveOldLists(ctx, req.Days, req.DryRun, s.actor)
}

func (s *appService) MigrateLegacySales(ctx context.Context, dryRun bool) (*core.LegacySaleReport, error) {
	return s.svc.Maintenance.MigrateLegacySales(ctx, dryRun, s.actor)
}

func (s *appService) SeedCatalog(ctx context.Context) (*core.SeedReport, error) {
	return s.svc.Maintenance.SeedCatalog(ctx, s.actor)
}

func (s *appService) Audit(ctx context.Context) (*core.AuditReport, error) {
	return s.svc.Maintenance.Audit(ctx)
}

func (s *appService) ListLists(ctx context.Context, state string) (*ListsResult, error) {
	lists, err := s.svc.Engine.ListLists(ctx, core.ListFilter{State: core.ListState(strings.TrimSpace(state))})
	if err != nil {
		return nil, err
	}
	return &ListsResult{Lists: lists}, nil
}

func (s *appService) GetList(ctx context.Context, id int) (*ListResult, error) {
	l, err := s.svc.Engine.GetList(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ListResult{List: l}, nil
}

func (s *appService) CreateList(ctx context.Context, req CreateListRequest) (*ListResult, error) {
	in := core.ListInput{Name: req.Name, Description: req.Description, Actor: s.actor}
	for _, b := range req.Bows {
		in.Bows = append(in.Bows, core.PlannedBowInput{BowCode: b.BowCode, Count: b.Count})
	}
	l, err := s.svc.Engine.CreateList(ctx, in)
	if err != nil {
		return nil, err
	}
	return &ListResult{List: l}, nil
}

func (s *appService) AdvanceList(ctx context.Context, id int, target string) (*ListResult, error) {
	state := core.ListState(strings.TrimSpace(target))
	if !state.Valid() {
		return nil, &core.Error{Code: core.CodeValidation, Message: fmt.Sprintf("unknown list state %q", target)}
	}
	l, err := s.svc.Engine.Advance(ctx, id, state, s.actor)
	if err != nil {
		return nil, err
	}
	return &ListResult{List: l}, nil
}

func (s *appService) ShoppingList(ctx context.Context, id int) (*ShoppingListResult, error) {
	l, err := s.svc.Engine.GetList(ctx, id)
	if err != nil {
		return nil, err
	}
	settings, err := s.svc.Settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	items := core.BuildShoppingList(l.Summary)
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.EstimatedCost)
	}
	return &ShoppingListResult{
		ListID:        l.ID,
		ListName:      l.Name,
		State:         l.State,
		Currency:      settings.CurrencyLabel,
		Items:         items,
		EstimatedCost: total,
	}, nil
}

func (s *appService) CashSummary(ctx context.Context, req DateRangeRequest) (*CashSummaryResult, error) {
	r, err := parseDateRange(req)
	if err != nil {
		return nil, err
	}
	settings, err := s.svc.Settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := s.svc.Cash.Summary(ctx, r)
	if err != nil {
		return nil, err
	}
	balance, err := s.svc.Cash.Balance(ctx)
	if err != nil {
		return nil, err
	}
	return &CashSummaryResult{
		CompanyName: settings.CompanyName,
		Currency:    settings.CurrencyLabel,
		Summary:     summary,
		Balance:     balance,
	}, nil
}

func (s *appService) CashExport(ctx context.Context, req CashExportRequest) (*CashExportResult, error) {
	r, err := parseDateRange(req.DateRangeRequest)
	if err != nil {
		return nil, err
	}
	settings, err := s.svc.Settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	movements, err := s.svc.Cash.Export(ctx, core.CashFilter{
		Category:   req.Category,
		Kind:       core.CashKind(strings.TrimSpace(req.Kind)),
		Range:      r,
		Descending: req.Descending,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, err
	}
	return &CashExportResult{Currency: settings.CurrencyLabel, Movements: movements}, nil
}

func (s *appService) SalesReport(ctx context.Context, req DateRangeRequest) (*SalesReportResult, error) {
	r, err := parseDateRange(req)
	if err != nil {
		return nil, err
	}
	settings, err := s.svc.Settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	byMonth, err := s.svc.Analytics.SalesByMonth(ctx, r)
	if err != nil {
		return nil, err
	}
	byBow, err := s.svc.Analytics.SalesByBow(ctx, r)
	if err != nil {
		return nil, err
	}
	return &SalesReportResult{Currency: settings.CurrencyLabel, ByMonth: byMonth, ByBow: byBow}, nil
}

func (s *appService) LowStock(ctx context.Context) (*LowStockResult, error) {
	settings, err := s.svc.Settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	materials, err := s.svc.Materials.LowStock(ctx)
	if err != nil {
		return nil, err
	}
	return &LowStockResult{Threshold: settings.LowStockAlertThreshold, Materials: materials}, nil
}

// parseDateRange converts YYYY-MM-DD bounds into a half-open UTC range.
func parseDateRange(req DateRangeRequest) (core.DateRange, error) {
	var r core.DateRange
	if from := strings.TrimSpace(req.From); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return r, &core.Error{Code: core.CodeValidation, Message: fmt.Sprintf("invalid from date %q, expected YYYY-MM-DD", from)}
		}
		r.From = &t
	}
	if to := strings.TrimSpace(req.To); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return r, &core.Error{Code: core.CodeValidation, Message: fmt.Sprintf("invalid to date %q, expected YYYY-MM-DD", to)}
		}
		end := t.AddDate(0, 0, 1)
		r.To = &end
	}
	if r.From != nil && r.To != nil && !r.From.Before(*r.To) {
		return r, &core.Error{Code: core.CodeValidation, Message: "from date must not be after to date"}
	}
	return r, nil
}
