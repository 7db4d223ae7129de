package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"bow-workshop/internal/app"
	"bow-workshop/internal/core"
	"bow-workshop/internal/db"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService records the requests it receives. Methods a test does not
// override panic through the nil embedded interface.
type stubService struct {
	app.ApplicationService
	archiveReq app.ArchiveRequest
	dryRun     bool
	state      string
	advanced   [2]any
	created    app.CreateListRequest
	cashReq    app.DateRangeRequest
	settings   *app.UpdateSettingsRequest
	err        error
}

func (s *stubService) Migrate(context.Context) (*db.MigrationStatus, error) {
	return &db.MigrationStatus{From: 1, To: 2, Changed: true}, nil
}

func (s *stubService) LoadSettings(context.Context) (*core.Settings, error) {
	settings := core.DefaultSettings()
	return &settings, nil
}

func (s *stubService) UpdateSettings(_ context.Context, req app.UpdateSettingsRequest) (*core.Settings, error) {
	s.settings = &req
	settings := core.DefaultSettings()
	settings.LowStockAlertThreshold = *req.LowStockAlertThreshold
	return &settings, nil
}

func (s *stubService) ArchiveOldLists(_ context.Context, req app.ArchiveRequest) (*core.ArchiveReport, error) {
	s.archiveReq = req
	return &core.ArchiveReport{Cutoff: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), DryRun: req.DryRun, ListIDs: []int{4, 9}}, s.err
}

func (s *stubService) MigrateLegacySales(_ context.Context, dryRun bool) (*core.LegacySaleReport, error) {
	s.dryRun = dryRun
	return &core.LegacySaleReport{DryRun: dryRun, Examined: 1, Outcomes: []core.LegacySaleOutcome{
		{CashMovementID: 3, Amount: decimal.NewFromInt(40), Skipped: "concept carries no list name"},
	}}, nil
}

func (s *stubService) ListLists(_ context.Context, state string) (*app.ListsResult, error) {
	s.state = state
	return &app.ListsResult{Lists: []core.ProductionList{{ID: 1, Name: "Spring", State: core.StateDraft}}}, nil
}

func (s *stubService) AdvanceList(_ context.Context, id int, target string) (*app.ListResult, error) {
	s.advanced = [2]any{id, target}
	if s.err != nil {
		return nil, s.err
	}
	return &app.ListResult{List: &core.ProductionList{ID: id, Name: "Spring", State: core.ListState(target)}}, nil
}

func (s *stubService) CreateList(_ context.Context, req app.CreateListRequest) (*app.ListResult, error) {
	s.created = req
	return &app.ListResult{List: &core.ProductionList{ID: 1, Name: req.Name, State: core.StateDraft}}, nil
}

func (s *stubService) CashSummary(_ context.Context, req app.DateRangeRequest) (*app.CashSummaryResult, error) {
	s.cashReq = req
	return &app.CashSummaryResult{Currency: "$", Summary: &core.CashSummary{
		IngressTotal: decimal.NewFromInt(40),
		Net:          decimal.NewFromInt(40),
		ByCategory:   []core.CategoryTotal{{Category: "sale", Kind: core.CashIngress, Total: decimal.NewFromInt(40), Count: 1}},
	}, Balance: decimal.NewFromInt(40)}, nil
}

func (s *stubService) Audit(context.Context) (*core.AuditReport, error) {
	return &core.AuditReport{Violations: []core.AuditViolation{{Check: core.CheckCashRunningBalance, Subject: "cash#2", Detail: "drift"}}}, nil
}

func TestRun_ArchiveOldLists(t *testing.T) {
	svc := &stubService{}
	var out bytes.Buffer
	err := Run(context.Background(), svc, []string{"archive-old-lists", "--days", "30", "--dry-run"}, &out)
	require.NoError(t, err)
	assert.Equal(t, app.ArchiveRequest{Days: 30, DryRun: true}, svc.archiveReq)
	assert.Contains(t, out.String(), "Would archive 2 lists")
}

func TestRun_ArchiveOldListsRequiresDays(t *testing.T) {
	err := Run(context.Background(), &stubService{}, []string{"archive-old-lists"}, &bytes.Buffer{})
	assert.True(t, errors.Is(err, ErrUsage))
	assert.Equal(t, 2, ExitCode(err))
}

func TestRun_MigrateLegacySales(t *testing.T) {
	svc := &stubService{}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), svc, []string{"migrate-legacy-sales", "--dry-run"}, &out))
	assert.True(t, svc.dryRun)
	assert.Contains(t, out.String(), "skipped: concept carries no list name")
}

func TestRun_ListsAndAdvance(t *testing.T) {
	svc := &stubService{}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), svc, []string{"lists", "--state", "draft"}, &out))
	assert.Equal(t, "draft", svc.state)
	assert.Contains(t, out.String(), "Spring")

	require.NoError(t, Run(context.Background(), svc, []string{"advance", "7", "in_delivery"}, &out))
	assert.Equal(t, [2]any{7, "in_delivery"}, svc.advanced)

	err := Run(context.Background(), svc, []string{"advance", "x", "in_delivery"}, &out)
	assert.True(t, errors.Is(err, ErrUsage))
}

func TestRun_CreateList(t *testing.T) {
	svc := &stubService{}
	err := Run(context.Background(), svc, []string{"create-list", "--name", "Fair", "B1=8", "B2=3"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "Fair", svc.created.Name)
	assert.Equal(t, []app.PlannedBowRequest{{BowCode: "B1", Count: 8}, {BowCode: "B2", Count: 3}}, svc.created.Bows)

	err = Run(context.Background(), svc, []string{"create-list", "--name", "Fair", "B1"}, &bytes.Buffer{})
	assert.True(t, errors.Is(err, ErrUsage))
}

func TestRun_CashSummary(t *testing.T) {
	svc := &stubService{}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), svc, []string{"cash-summary", "--from", "2026-01-01", "--to", "2026-01-31"}, &out))
	assert.Equal(t, app.DateRangeRequest{From: "2026-01-01", To: "2026-01-31"}, svc.cashReq)
	assert.Contains(t, out.String(), "$40.00")
}

func TestRun_AuditViolationsFail(t *testing.T) {
	var out bytes.Buffer
	err := Run(context.Background(), &stubService{}, []string{"audit"}, &out)
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
	assert.Contains(t, out.String(), "[cash_running_balance] cash#2: drift")
}

func TestRun_Migrate(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), &stubService{}, []string{"migrate"}, &out))
	assert.Contains(t, out.String(), "from version 1 to 2")
}

func TestRun_Settings(t *testing.T) {
	svc := &stubService{}
	var out bytes.Buffer
	require.NoError(t, Run(context.Background(), svc, []string{"settings"}, &out))
	assert.Nil(t, svc.settings, "no flags only reads")
	assert.Contains(t, out.String(), "Bow Workshop")

	out.Reset()
	require.NoError(t, Run(context.Background(), svc, []string{"settings", "--low-stock-threshold", "25"}, &out))
	require.NotNil(t, svc.settings)
	assert.Nil(t, svc.settings.CompanyName)
	assert.Nil(t, svc.settings.CurrencyLabel)
	assert.Equal(t, int64(25), *svc.settings.LowStockAlertThreshold)
	assert.Contains(t, out.String(), "25")
}

func TestRun_UnknownCommand(t *testing.T) {
	err := Run(context.Background(), &stubService{}, []string{"frobnicate"}, &bytes.Buffer{})
	assert.True(t, errors.Is(err, ErrUsage))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 3, ExitCode(&core.Error{Code: core.CodeConflict}))
	assert.Equal(t, 3, ExitCode(&core.Error{Code: core.CodeRetry}))
	assert.Equal(t, 1, ExitCode(&core.Error{Code: core.CodeInsufficientStock}))
}
