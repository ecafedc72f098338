package types

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

type Migration interface {
	Version() MigrationVersion
	Name() string
	Description() string
	Up(ctx context.Context, tx pgx.Tx) error
	Down(ctx context.Context, tx pgx.Tx) error
}

type MigrationVersion time.Time

func (v MigrationVersion) String() string {
	return time.Time(v).Format(time.RFC3339)
}

func (v MigrationVersion) Before(other MigrationVersion) bool {
	return time.Time(v).Before(time.Time(other))
}

func (v MigrationVersion) Equal(other MigrationVersion) bool {
	return time.Time(v).Equal(time.Time(other))
}

func (v MigrationVersion) IsZero() bool {
	return time.Time(v).IsZero()
}

// Parses a version as written in migration file names and on the command line,
// e.g. 2025-01-14T09:33:55Z or 2025-01-14T093355Z.
func ParseMigrationVersion(s string) (MigrationVersion, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		var compactErr error
		t, compactErr = time.Parse("2006-01-02T150405Z07:00", s)
		if compactErr != nil {
			return MigrationVersion{}, err
		}
	}
	return MigrationVersion(t.UTC()), nil
}
