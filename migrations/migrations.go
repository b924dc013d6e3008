package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/danthegoodman1/icescan/gologger"
	// ensure "pgx" driver is loaded
	_ "github.com/jackc/pgx/v4/stdlib"
	migrate "github.com/rubenv/sql-migrate"
)

var (
	//go:embed *.sql
	migrations embed.FS

	ErrMigrationsNotRun = fmt.Errorf("not all migrations applied")

	logger = gologger.NewLogger()
)

func source() migrate.MigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrations,
		Root:       ".",
	}
}

func migrationSet() migrate.MigrationSet {
	return migrate.MigrationSet{
		TableName: "icescan_migrations",
	}
}

// RunMigrations applies every pending catalog migration and returns how many ran.
func RunMigrations(crdbDsn string) (int, error) {
	db, err := sql.Open("pgx", crdbDsn)
	if err != nil {
		return 0, fmt.Errorf("error in sql.Open: %w", err)
	}
	defer db.Close()
	ms := migrationSet()
	n, err := ms.Exec(db, "postgres", source(), migrate.Up)
	if err != nil {
		return n, fmt.Errorf("error in migrate exec: %w", err)
	}
	logger.Info().Int("applied", n).Msg("ran catalog migrations")
	return n, nil
}

// CheckMigrations returns ErrMigrationsNotRun when the catalog is behind.
func CheckMigrations(crdbDsn string) error {
	db, err := sql.Open("pgx", crdbDsn)
	if err != nil {
		return err
	}
	defer db.Close()
	ms := migrationSet()
	migration, _, err := ms.PlanMigration(db, "postgres", source(), migrate.Up, 0)
	if err != nil {
		return err
	}
	if len(migration) > 0 {
		for _, mig := range migration {
			logger.Warn().Str("migrationID", mig.Id).Msg("missing migration")
		}
		return ErrMigrationsNotRun
	}
	return nil
}
