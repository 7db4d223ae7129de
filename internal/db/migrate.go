package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
)

// MigrationStatus reports the schema version before and after a Migrate call.
type MigrationStatus struct {
	From    uint
	To      uint
	Changed bool
}

// Migrate applies every pending up migration found in files (NNN_description.up.sql)
// to the database at databaseURL. Cancelling ctx stops after the migration in flight.
func Migrate(ctx context.Context, databaseURL string, files fs.FS) (*MigrationStatus, error) {
	src, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, MigrationURL(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	status := &MigrationStatus{}
	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
	case err != nil:
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	case dirty:
		return nil, fmt.Errorf("schema version %d is dirty; fix it by hand and force the version", from)
	default:
		status.From = from
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			status.To = status.From
			log.Debug().Uint("version", status.To).Msg("no migrations to apply")
			return status, nil
		}
		return nil, fmt.Errorf("migration up failed: %w", err)
	}

	to, _, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	status.To, status.Changed = to, true
	log.Info().Uint("from", status.From).Uint("to", status.To).Msg("migrations applied")
	return status, nil
}

// MigrationURL rewrites a postgres connection URL to the scheme the pgx/v5 migrate driver registers.
func MigrationURL(databaseURL string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, scheme) {
			return "pgx5://" + strings.TrimPrefix(databaseURL, scheme)
		}
	}
	return databaseURL
}
