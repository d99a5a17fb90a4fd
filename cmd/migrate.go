package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratedatabase "github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"github.com/porthorian/weappauth/pkg/storage/postgres"
	"github.com/spf13/cobra"
)

const embeddedMigrationsSource = "embedded"

var defaultMigrationsTable = postgres.MigrationsSchema + "." + postgres.MigrationsTable

type migrateConfig struct {
	DatabaseURL     string
	MigrationsTable string
	MigrationsPath  string
}

func init() {
	rootCmd.AddCommand(newMigrateCommand())
}

func newMigrateCommand() *cobra.Command {
	cfg := migrateConfig{}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres session schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	migrateCmd.PersistentFlags().StringVar(&cfg.DatabaseURL, "database-url", "", "Postgres connection URL. Can also be set via WEAPPAUTH_MIGRATE_DATABASE_URL or WEAPPAUTH_POSTGRES_DSN.")
	migrateCmd.PersistentFlags().StringVar(&cfg.MigrationsTable, "migrations-table", "", "Migrations version table, table or schema.table. Defaults to "+defaultMigrationsTable+". Can also be set via WEAPPAUTH_MIGRATE_MIGRATIONS_TABLE.")
	migrateCmd.PersistentFlags().StringVar(&cfg.MigrationsPath, "migrations-path", "", "Path or source URL for migration files. Defaults to the migrations embedded in the binary.")

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up [steps]",
		Short: "Apply pending migrations",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, hasSteps, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, source string) error {
				if hasSteps {
					err = runner.Steps(steps)
				} else {
					err = runner.Up()
				}
				if err != nil {
					if isNoChangeBoundaryError(err) {
						cmd.Println("No schema changes to apply.")
						return nil
					}
					if hasSteps && reportShortLimit(cmd, err, "Applied", steps, source) {
						return nil
					}
					return fmt.Errorf("apply migrations: %w", err)
				}

				if hasSteps {
					cmd.Printf("Applied %d migration step(s) from %s\n", steps, source)
					return nil
				}
				cmd.Printf("Applied all pending migrations from %s\n", source)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down <steps>",
		Short: "Roll back migrations by step count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _, err := parseMigrationStepsArg(args)
			if err != nil {
				return err
			}
			table := resolveMigrationsTable(cfg.MigrationsTable)

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, source string) error {
				err := runner.Steps(-steps)
				switch {
				case err == nil:
				case isNoChangeBoundaryError(err):
					cmd.Println("No schema changes to roll back.")
					return nil
				case isDroppedMigrationsTableError(err, table):
					cmd.Println("Migration tracking table was removed by rollback and will be recreated on the next run.")
				case reportShortLimit(cmd, err, "Rolled back", steps, source):
					return nil
				default:
					return fmt.Errorf("roll back migrations: %w", err)
				}

				cmd.Printf("Rolled back %d migration step(s) from %s\n", steps, source)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "force <version>",
		Short: "Force-set migration version (-1 for nil version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersionArg(args[0])
			if err != nil {
				return err
			}

			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, _ string) error {
				if err := runner.Force(version); err != nil {
					return fmt.Errorf("force migration version: %w", err)
				}
				cmd.Printf("Forced migration version to %d.\n", version)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied migration version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationRunner(cmd, cfg, func(runner *migrate.Migrate, _ string) error {
				version, dirty, err := runner.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					cmd.Println("No migrations applied.")
					return nil
				}
				if err != nil {
					return fmt.Errorf("read migration version: %w", err)
				}
				cmd.Printf("%d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	})

	return migrateCmd
}

func withMigrationRunner(cmd *cobra.Command, cfg migrateConfig, run func(runner *migrate.Migrate, source string) error) error {
	runner, source, err := newMigrationRunner(cfg)
	if err != nil {
		return err
	}
	defer func() {
		sourceErr, databaseErr := runner.Close()
		if closeErr := errors.Join(sourceErr, databaseErr); closeErr != nil {
			cmd.PrintErrf("warning: failed to close migration runner cleanly: %v\n", closeErr)
		}
	}()
	return run(runner, source)
}

func reportShortLimit(cmd *cobra.Command, err error, verb string, requested int, source string) bool {
	var shortLimit migrate.ErrShortLimit
	if !errors.As(err, &shortLimit) {
		return false
	}

	done := requested - int(shortLimit.Short)
	if done <= 0 {
		cmd.Println("No schema changes to apply.")
		return true
	}
	cmd.Printf("%s %d migration step(s) from %s (requested %d, reached migration boundary)\n", verb, done, source, requested)
	return true
}

func resolveDatabaseURL(flagValue string) (string, error) {
	databaseURL := stringDefault(flagValue, "WEAPPAUTH_MIGRATE_DATABASE_URL", "WEAPPAUTH_POSTGRES_DSN")
	if databaseURL == "" {
		return "", errors.New("missing database URL: set --database-url or WEAPPAUTH_MIGRATE_DATABASE_URL")
	}
	return databaseURL, nil
}

func parseMigrationStepsArg(args []string) (int, bool, error) {
	if len(args) == 0 {
		return 0, false, nil
	}

	steps, err := strconv.Atoi(strings.TrimSpace(args[0]))
	if err != nil || steps <= 0 {
		return 0, false, fmt.Errorf("invalid migration steps %q: expected a positive integer", args[0])
	}
	return steps, true, nil
}

func parseForceVersionArg(arg string) (int, error) {
	version, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || version < -1 {
		return 0, fmt.Errorf("invalid force version %q: expected an integer >= -1", arg)
	}
	return version, nil
}

func newMigrationRunner(cfg migrateConfig) (*migrate.Migrate, string, error) {
	databaseURL, err := resolveDatabaseURL(cfg.DatabaseURL)
	if err != nil {
		return nil, "", err
	}

	table, err := parseMigrationsTableSpec(resolveMigrationsTable(cfg.MigrationsTable))
	if err != nil {
		return nil, "", err
	}
	if err := ensureMigrationsSchemaExists(databaseURL, table); err != nil {
		return nil, "", err
	}
	databaseURL, err = applyMigrationsTable(databaseURL, table)
	if err != nil {
		return nil, "", err
	}

	sourceURL, err := resolveMigrationsSourceURL(cfg.MigrationsPath)
	if err != nil {
		return nil, "", err
	}

	if sourceURL == embeddedMigrationsSource {
		src, err := postgres.MigrationSource()
		if err != nil {
			return nil, "", err
		}
		runner, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("create migrate runner: %w", err)
		}
		return runner, sourceURL, nil
	}

	runner, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("create migrate runner: %w", err)
	}
	return runner, sourceURL, nil
}

func resolveMigrationsTable(flagValue string) string {
	if value := stringDefault(flagValue, "WEAPPAUTH_MIGRATE_MIGRATIONS_TABLE"); value != "" {
		return value
	}
	return defaultMigrationsTable
}

func applyMigrationsTable(databaseURL string, table migrationsTableSpec) (string, error) {
	if table.Table == "" {
		return databaseURL, nil
	}

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("parse --database-url: %w", err)
	}

	query := parsed.Query()
	if strings.TrimSpace(query.Get("x-migrations-table")) != "" {
		return databaseURL, nil
	}

	if table.Schema != "" {
		query.Set("x-migrations-table", pq.QuoteIdentifier(table.Schema)+"."+pq.QuoteIdentifier(table.Table))
		query.Set("x-migrations-table-quoted", "true")
	} else {
		query.Set("x-migrations-table", table.Table)
	}

	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

type migrationsTableSpec struct {
	Schema string
	Table  string
}

var quotedMigrationsTableRegexp = regexp.MustCompile(`"(.*?)"`)

func parseMigrationsTableSpec(value string) (migrationsTableSpec, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return migrationsTableSpec{}, nil
	}

	var parts []string
	if strings.Contains(raw, `"`) {
		for _, match := range quotedMigrationsTableRegexp.FindAllStringSubmatch(raw, -1) {
			parts = append(parts, match[1])
		}
	} else {
		parts = strings.Split(raw, ".")
	}

	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return migrationsTableSpec{}, fmt.Errorf("invalid migrations table %q", value)
		}
	}

	switch len(parts) {
	case 1:
		return migrationsTableSpec{Table: parts[0]}, nil
	case 2:
		return migrationsTableSpec{Schema: parts[0], Table: parts[1]}, nil
	default:
		return migrationsTableSpec{}, fmt.Errorf("invalid migrations table %q: expected table or schema.table", value)
	}
}

func ensureMigrationsSchemaExists(databaseURL string, table migrationsTableSpec) error {
	if table.Schema == "" {
		return nil
	}

	parsedURL, err := url.Parse(databaseURL)
	if err != nil {
		return fmt.Errorf("parse --database-url: %w", err)
	}

	db, err := sql.Open("postgres", migrate.FilterCustomQuery(parsedURL).String())
	if err != nil {
		return fmt.Errorf("open database for schema bootstrap: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE SCHEMA IF NOT EXISTS " + pq.QuoteIdentifier(table.Schema)); err != nil {
		return fmt.Errorf("ensure migrations schema %q exists: %w", table.Schema, err)
	}
	return nil
}

func resolveMigrationsSourceURL(migrationsPath string) (string, error) {
	pathOrURL := strings.TrimSpace(migrationsPath)
	if pathOrURL == "" {
		return embeddedMigrationsSource, nil
	}
	if strings.Contains(pathOrURL, "://") {
		return pathOrURL, nil
	}

	absPath, err := filepath.Abs(pathOrURL)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path %q: %w", pathOrURL, err)
	}
	return "file://" + filepath.ToSlash(absPath), nil
}

func isNoChangeBoundaryError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return true
	}
	// Steps past the first or last migration surface as a bare os.ErrNotExist.
	return err == os.ErrNotExist
}

func isDroppedMigrationsTableError(err error, migrationsTable string) bool {
	var dbErr *migratedatabase.Error
	if !errors.As(err, &dbErr) || dbErr == nil {
		return false
	}

	query := strings.TrimSpace(string(dbErr.Query))
	if !strings.HasPrefix(strings.ToUpper(query), "TRUNCATE ") {
		return false
	}

	table, parseErr := parseMigrationsTableSpec(migrationsTable)
	if parseErr != nil || table.Table == "" {
		return false
	}

	target := pq.QuoteIdentifier(table.Table)
	if table.Schema != "" {
		target = pq.QuoteIdentifier(table.Schema) + "." + target
	}
	if !strings.Contains(query, target) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(dbErr.OrigErr, &pqErr) && string(pqErr.Code) == "3F000" {
		return true
	}

	message := strings.ToLower(dbErr.Error())
	return strings.Contains(message, "schema") && strings.Contains(message, "does not exist")
}
