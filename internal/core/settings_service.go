package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Settings is the business configuration. Only one record exists.
type Settings struct {
	CompanyName            string
	CurrencyLabel          string
	LowStockAlertThreshold int64
	UpdatedAt              time.Time
}

// DefaultSettings is returned until the record is saved for the first time.
func DefaultSettings() Settings {
	return Settings{CompanyName: "Bow Workshop", CurrencyLabel: "$"}
}

func (s *Settings) Normalize() {
	s.CompanyName = strings.TrimSpace(s.CompanyName)
	s.CurrencyLabel = strings.TrimSpace(s.CurrencyLabel)
}

func (s Settings) Validate() error {
	if s.CompanyName == "" {
		return validation("company name is required")
	}
	if s.CurrencyLabel == "" {
		return validation("currency label is required")
	}
	if s.LowStockAlertThreshold < 0 {
		return validation("low stock alert threshold cannot be negative, got %d", s.LowStockAlertThreshold)
	}
	return nil
}

// SettingsService reads and writes the singleton settings record.
type SettingsService interface {
	Get(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) (Settings, error)
}

type settingsService struct {
	db *DB
}

func NewSettingsService(db *DB) SettingsService {
	return &settingsService{db: db}
}

func loadSettings(ctx context.Context, q querier) (Settings, error) {
	var s Settings
	err := q.QueryRow(ctx, `
		SELECT company_name, currency_label, low_stock_alert_threshold, updated_at
		FROM settings WHERE id = 1
	`).Scan(&s.CompanyName, &s.CurrencyLabel, &s.LowStockAlertThreshold, &s.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return s, nil
}

func (s *settingsService) Get(ctx context.Context) (Settings, error) {
	return loadSettings(ctx, s.db.pool)
}

func (s *settingsService) Save(ctx context.Context, in Settings) (Settings, error) {
	in.Normalize()
	if err := in.Validate(); err != nil {
		return Settings{}, err
	}
	err := s.db.inTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			INSERT INTO settings (id, company_name, currency_label, low_stock_alert_threshold, updated_at)
			VALUES (1, $1, $2, $3, NOW())
			ON CONFLICT (id) DO UPDATE SET
				company_name = EXCLUDED.company_name,
				currency_label = EXCLUDED.currency_label,
				low_stock_alert_threshold = EXCLUDED.low_stock_alert_threshold,
				updated_at = NOW()
			RETURNING updated_at
		`, in.CompanyName, in.CurrencyLabel, in.LowStockAlertThreshold).Scan(&in.UpdatedAt)
	})
	if err != nil {
		return Settings{}, err
	}
	return in, nil
}
