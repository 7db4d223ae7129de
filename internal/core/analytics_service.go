package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bow-workshop/internal/cache"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ── Report types ──────────────────────────────────────────────────────────────

// MonthlySales aggregates sale records of one calendar month.
// EffectiveUnits counts individual bows: a pair counts as two.
type MonthlySales struct {
	Month          time.Time
	QuantitySold   int64
	EffectiveUnits int64
	Revenue        decimal.Decimal
	Profit         decimal.Decimal
}

// BowSales aggregates sale records of one bow.
type BowSales struct {
	BowCode        string
	BowName        string
	QuantitySold   int64
	EffectiveUnits int64
	Revenue        decimal.Decimal
	Profit         decimal.Decimal
}

// ── Interface ─────────────────────────────────────────────────────────────────

// AnalyticsService is the read-only analytics feed over sale records and cash movements.
// Reports are cached under a key that embeds the current ledger version, so any new
// sale or cash movement invalidates them.
type AnalyticsService interface {
	SalesByMonth(ctx context.Context, r DateRange) ([]MonthlySales, error)
	// SalesByBow is ordered by revenue, highest first.
	SalesByBow(ctx context.Context, r DateRange) ([]BowSales, error)
	CashByCategory(ctx context.Context, r DateRange) ([]CategoryTotal, error)
	CashSeries(ctx context.Context, bucket Bucket, r DateRange) ([]SeriesPoint, error)
}

type analyticsService struct {
	db    *DB
	cash  CashLedger
	cache cache.ReportCache
	ttl   time.Duration
}

// NewAnalyticsService returns the feed. A nil cache disables caching.
func NewAnalyticsService(db *DB, cash CashLedger, reportCache cache.ReportCache, ttl time.Duration) AnalyticsService {
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	return &analyticsService{db: db, cash: cash, cache: reportCache, ttl: ttl}
}

// ledgerVersion identifies the current state of both append-only ledgers.
func (s *analyticsService) ledgerVersion(ctx context.Context) (string, error) {
	var saleMax, cashMax int64
	err := s.db.pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT MAX(id) FROM sale_records), 0),
		       COALESCE((SELECT MAX(id) FROM cash_movements), 0)
	`).Scan(&saleMax, &cashMax)
	if err != nil {
		return "", fmt.Errorf("failed to read ledger version: %w", err)
	}
	return fmt.Sprintf("%d.%d", saleMax, cashMax), nil
}

func rangeKey(r DateRange) string {
	f, t := "-", "-"
	if r.From != nil {
		f = r.From.UTC().Format(time.RFC3339)
	}
	if r.To != nil {
		t = r.To.UTC().Format(time.RFC3339)
	}
	return f + ":" + t
}

// cached returns the report stored under name, computing and storing it on a miss.
// Cache failures degrade to computing the report.
func cached[T any](ctx context.Context, s *analyticsService, name string, compute func() (T, error)) (T, error) {
	var zero T
	version, err := s.ledgerVersion(ctx)
	if err != nil {
		return zero, err
	}
	key := fmt.Sprintf("analytics:%s:v%s", name, version)

	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("report cache read failed")
	} else if ok {
		var out T
		if err := json.Unmarshal(raw, &out); err == nil {
			return out, nil
		}
		log.Warn().Str("key", key).Msg("discarding undecodable cached report")
	}

	out, err := compute()
	if err != nil {
		return zero, err
	}
	if raw, err := json.Marshal(out); err == nil {
		if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("report cache write failed")
		}
	}
	return out, nil
}

func (s *analyticsService) SalesByMonth(ctx context.Context, r DateRange) ([]MonthlySales, error) {
	return cached(ctx, s, "sales-by-month:"+rangeKey(r), func() ([]MonthlySales, error) {
		where, args := rangeClause("created_at", r, nil)
		rows, err := s.db.pool.Query(ctx, `
			SELECT date_trunc('month', created_at) AS month,
			       SUM(quantity_sold),
			       SUM(quantity_sold * CASE WHEN sale_mode_at_sale = 'pair' THEN 2 ELSE 1 END),
			       SUM(total_revenue),
			       SUM(total_profit)
			FROM sale_records
			WHERE `+where+`
			GROUP BY month
			ORDER BY month
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query monthly sales: %w", err)
		}
		defer rows.Close()

		var out []MonthlySales
		for rows.Next() {
			var m MonthlySales
			if err := rows.Scan(&m.Month, &m.QuantitySold, &m.EffectiveUnits, &m.Revenue, &m.Profit); err != nil {
				return nil, fmt.Errorf("failed to scan monthly sales: %w", err)
			}
			out = append(out, m)
		}
		return out, rows.Err()
	})
}

func (s *analyticsService) SalesByBow(ctx context.Context, r DateRange) ([]BowSales, error) {
	return cached(ctx, s, "sales-by-bow:"+rangeKey(r), func() ([]BowSales, error) {
		where, args := rangeClause("sr.created_at", r, nil)
		rows, err := s.db.pool.Query(ctx, `
			SELECT b.code, b.name,
			       SUM(sr.quantity_sold),
			       SUM(sr.quantity_sold * CASE WHEN sr.sale_mode_at_sale = 'pair' THEN 2 ELSE 1 END),
			       SUM(sr.total_revenue),
			       SUM(sr.total_profit)
			FROM sale_records sr
			JOIN bows b ON b.id = sr.bow_id
			WHERE `+where+`
			GROUP BY b.code, b.name
			ORDER BY SUM(sr.total_revenue) DESC, b.code
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query sales by bow: %w", err)
		}
		defer rows.Close()

		var out []BowSales
		for rows.Next() {
			var b BowSales
			if err := rows.Scan(&b.BowCode, &b.BowName, &b.QuantitySold, &b.EffectiveUnits, &b.Revenue, &b.Profit); err != nil {
				return nil, fmt.Errorf("failed to scan sales by bow: %w", err)
			}
			out = append(out, b)
		}
		return out, rows.Err()
	})
}

func (s *analyticsService) CashByCategory(ctx context.Context, r DateRange) ([]CategoryTotal, error) {
	return cached(ctx, s, "cash-by-category:"+rangeKey(r), func() ([]CategoryTotal, error) {
		summary, err := s.cash.Summary(ctx, r)
		if err != nil {
			return nil, err
		}
		return summary.ByCategory, nil
	})
}

func (s *analyticsService) CashSeries(ctx context.Context, bucket Bucket, r DateRange) ([]SeriesPoint, error) {
	return cached(ctx, s, "cash-series:"+string(bucket)+":"+rangeKey(r), func() ([]SeriesPoint, error) {
		return s.cash.Series(ctx, bucket, r)
	})
}
