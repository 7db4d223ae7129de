package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"bow-workshop/internal/app"
	"bow-workshop/internal/core"

	"github.com/spf13/pflag"
)

// ErrUsage is returned when the command line cannot be parsed.
var ErrUsage = errors.New("usage error")

const usage = `Usage: app <command> [flags]

Commands:
  migrate                                  apply pending schema migrations
  seed-catalog                             create the development catalog
  archive-old-lists --days N [--dry-run]   archive finalized lists older than N days
  migrate-legacy-sales [--dry-run]         rebuild sale records from historical sale ingresses
  audit                                    verify ledger invariants
  lists [--state S]                        list production lists
  list <id>                                show a production list
  create-list --name N BOW=COUNT...        create a draft production list
  advance <id> <state>                     move a list to the next state
  shopping-list <id>                       show the purchase suggestion of a list
  cash-summary [--from D] [--to D]         cash totals by category
  cash-export [--from D] [--to D] [--category C] [--kind K] [--desc]
  sales-report [--from D] [--to D]         sales by month and by bow
  low-stock                                materials at or below the alert threshold
  settings [--company C] [--currency C] [--low-stock-threshold N]
                                           show or change the business settings`

// Run executes a one-shot CLI command, writing its report to out.
// args is os.Args[1:]; the first element is the subcommand name.
func Run(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(out, usage)
		return ErrUsage
	}

	cmd, rest := args[0], args[1:]
	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	fs.SetOutput(out)

	switch cmd {
	case "migrate":
		status, err := svc.Migrate(ctx)
		if err != nil {
			return err
		}
		if !status.Changed {
			fmt.Fprintf(out, "Schema is up to date at version %d.\n", status.To)
		} else {
			fmt.Fprintf(out, "Migrated schema from version %d to %d.\n", status.From, status.To)
		}

	case "seed-catalog":
		report, err := svc.SeedCatalog(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Seeded %d materials, %d bows, %d recipe rows.\n",
			report.MaterialsCreated, report.BowsCreated, report.RecipeRowsSet)

	case "archive-old-lists":
		days := fs.Int("days", -1, "archive lists finalized more than N days ago")
		dryRun := fs.Bool("dry-run", false, "report without archiving")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		if *days < 0 {
			return fmt.Errorf("%w: archive-old-lists requires --days N", ErrUsage)
		}
		report, err := svc.ArchiveOldLists(ctx, app.ArchiveRequest{Days: *days, DryRun: *dryRun})
		if err != nil {
			return err
		}
		printArchiveReport(out, report)

	case "migrate-legacy-sales":
		dryRun := fs.Bool("dry-run", false, "report without writing")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		report, err := svc.MigrateLegacySales(ctx, *dryRun)
		if err != nil {
			return err
		}
		printLegacyReport(out, report)

	case "audit":
		report, err := svc.Audit(ctx)
		if err != nil {
			return err
		}
		printAudit(out, report)
		if !report.OK() {
			return fmt.Errorf("audit found %d violations", len(report.Violations))
		}

	case "lists":
		state := fs.String("state", "", "filter by state")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		result, err := svc.ListLists(ctx, *state)
		if err != nil {
			return err
		}
		printLists(out, result)

	case "list":
		id, err := listID(rest)
		if err != nil {
			return err
		}
		result, err := svc.GetList(ctx, id)
		if err != nil {
			return err
		}
		printList(out, result.List)

	case "create-list":
		name := fs.String("name", "", "list name")
		desc := fs.String("description", "", "list description")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		bows, err := parsePlannedBows(fs.Args())
		if err != nil {
			return err
		}
		result, err := svc.CreateList(ctx, app.CreateListRequest{Name: *name, Description: *desc, Bows: bows})
		if err != nil {
			return err
		}
		printList(out, result.List)

	case "advance":
		if len(rest) != 2 {
			return fmt.Errorf("%w: advance <id> <state>", ErrUsage)
		}
		id, err := listID(rest[:1])
		if err != nil {
			return err
		}
		result, err := svc.AdvanceList(ctx, id, rest[1])
		if err != nil {
			return err
		}
		printList(out, result.List)

	case "shopping-list":
		id, err := listID(rest)
		if err != nil {
			return err
		}
		result, err := svc.ShoppingList(ctx, id)
		if err != nil {
			return err
		}
		printShoppingList(out, result)

	case "cash-summary":
		from := fs.String("from", "", "start date YYYY-MM-DD")
		to := fs.String("to", "", "end date YYYY-MM-DD, inclusive")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		result, err := svc.CashSummary(ctx, app.DateRangeRequest{From: *from, To: *to})
		if err != nil {
			return err
		}
		printCashSummary(out, result)

	case "cash-export":
		req := app.CashExportRequest{}
		fs.StringVar(&req.From, "from", "", "start date YYYY-MM-DD")
		fs.StringVar(&req.To, "to", "", "end date YYYY-MM-DD, inclusive")
		fs.StringVar(&req.Category, "category", "", "filter by category")
		fs.StringVar(&req.Kind, "kind", "", "filter by kind (ingress|egress)")
		fs.BoolVar(&req.Descending, "desc", false, "newest first")
		fs.IntVar(&req.Limit, "limit", 0, "maximum rows")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		result, err := svc.CashExport(ctx, req)
		if err != nil {
			return err
		}
		printCashExport(out, result)

	case "sales-report":
		from := fs.String("from", "", "start date YYYY-MM-DD")
		to := fs.String("to", "", "end date YYYY-MM-DD, inclusive")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		result, err := svc.SalesReport(ctx, app.DateRangeRequest{From: *from, To: *to})
		if err != nil {
			return err
		}
		printSalesReport(out, result)

	case "low-stock":
		result, err := svc.LowStock(ctx)
		if err != nil {
			return err
		}
		printLowStock(out, result)

	case "settings":
		company := fs.String("company", "", "company name")
		currency := fs.String("currency", "", "currency label")
		threshold := fs.Int64("low-stock-threshold", 0, "low stock alert threshold in base units")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", ErrUsage, err)
		}
		var req app.UpdateSettingsRequest
		if fs.Changed("company") {
			req.CompanyName = company
		}
		if fs.Changed("currency") {
			req.CurrencyLabel = currency
		}
		if fs.Changed("low-stock-threshold") {
			req.LowStockAlertThreshold = threshold
		}

		var (
			settings *core.Settings
			err      error
		)
		if req == (app.UpdateSettingsRequest{}) {
			settings, err = svc.LoadSettings(ctx)
		} else {
			settings, err = svc.UpdateSettings(ctx, req)
		}
		if err != nil {
			return err
		}
		printSettings(out, settings)

	case "help", "-h", "--help":
		fmt.Fprintln(out, usage)

	default:
		fmt.Fprintln(out, usage)
		return fmt.Errorf("%w: unknown command %s", ErrUsage, cmd)
	}
	return nil
}

func listID(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: expected a list id", ErrUsage)
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid list id %q", ErrUsage, args[0])
	}
	return id, nil
}

// parsePlannedBows reads BOW=COUNT pairs.
func parsePlannedBows(args []string) ([]app.PlannedBowRequest, error) {
	var out []app.PlannedBowRequest
	for _, a := range args {
		code, count, ok := strings.Cut(a, "=")
		if !ok {
			return nil, fmt.Errorf("%w: planned bow %q must be BOW=COUNT", ErrUsage, a)
		}
		n, err := strconv.Atoi(count)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid count in %q", ErrUsage, a)
		}
		out = append(out, app.PlannedBowRequest{BowCode: code, Count: n})
	}
	return out, nil
}

// ExitCode maps an error to a process exit status: 2 for usage, 3 for retryable
// conflicts, 1 for everything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrUsage):
		return 2
	case core.IsRetryable(err):
		return 3
	}
	return 1
}
