package migration

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/soch-community/sochbot/src/bot"
	"github.com/soch-community/sochbot/src/db"
	"github.com/soch-community/sochbot/src/migration/migrations"
	"github.com/soch-community/sochbot/src/migration/types"
	"github.com/soch-community/sochbot/src/oops"
	"github.com/spf13/cobra"
)

var listMigrations bool

func init() {
	migrateCommand := &cobra.Command{
		Use:   "migrate [target migration id]",
		Short: "Run database migrations",
		Run: func(cmd *cobra.Command, args []string) {
			if listMigrations {
				ListMigrations()
				return
			}

			targetVersion := types.MigrationVersion{}
			if len(args) > 0 {
				var err error
				targetVersion, err = types.ParseMigrationVersion(args[0])
				if err != nil {
					fmt.Printf("ERROR: bad version string: %v\n", err)
					os.Exit(1)
				}
			}
			if err := Migrate(targetVersion); err != nil {
				fmt.Printf("ERROR: %v\n", err)
				os.Exit(1)
			}
		},
	}
	migrateCommand.Flags().BoolVar(&listMigrations, "list", false, "List available migrations")

	makeMigrationCommand := &cobra.Command{
		Use:   "makemigration <name> <description>...",
		Short: "Create a new database migration file",
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) < 2 {
				fmt.Printf("You must provide a name and a description.\n\n")
				cmd.Usage()
				os.Exit(1)
			}

			name := args[0]
			description := strings.Join(args[1:], " ")

			MakeMigration(name, description)
		},
	}

	bot.BotCommand.AddCommand(migrateCommand)
	bot.BotCommand.AddCommand(makeMigrationCommand)
}

func getSortedMigrationVersions() []types.MigrationVersion {
	var allVersions []types.MigrationVersion
	for migrationTime := range migrations.All {
		allVersions = append(allVersions, migrationTime)
	}
	sort.Slice(allVersions, func(i, j int) bool {
		return allVersions[i].Before(allVersions[j])
	})

	return allVersions
}

func getCurrentVersion(ctx context.Context, conn *pgx.Conn) (types.MigrationVersion, error) {
	var currentVersion time.Time
	row := conn.QueryRow(ctx, "SELECT version FROM soch_migration")
	err := row.Scan(&currentVersion)
	if err != nil {
		return types.MigrationVersion{}, err
	}
	currentVersion = currentVersion.UTC()

	return types.MigrationVersion(currentVersion), nil
}

func tryGetCurrentVersion(ctx context.Context) types.MigrationVersion {
	defer func() {
		recover()
	}()

	conn := db.NewConn()
	defer conn.Close(ctx)

	currentVersion, _ := getCurrentVersion(ctx, conn)

	return currentVersion
}

func ListMigrations() {
	ctx := context.Background()

	currentVersion := tryGetCurrentVersion(ctx)
	for _, version := range getSortedMigrationVersions() {
		migration := migrations.All[version]
		indicator := "  "
		if version.Equal(currentVersion) {
			indicator = "✔ "
		}
		fmt.Printf("%s%v (%s: %s)\n", indicator, version, migration.Name(), migration.Description())
	}
}

// Plans the steps between two versions. Positive steps are applied with Up,
// negative steps are rolled back with Down.
func planMigration(allVersions []types.MigrationVersion, current, target types.MigrationVersion) (from int, to int, err error) {
	if len(allVersions) == 0 {
		return 0, 0, oops.New(nil, "there are no migrations")
	}
	if target.IsZero() {
		target = allVersions[len(allVersions)-1]
	}

	from, to = -1, -1
	for i, version := range allVersions {
		if current.Equal(version) {
			from = i
		}
		if target.Equal(version) {
			to = i
		}
	}
	if to < 0 {
		return 0, 0, oops.New(nil, "could not find migration with version %v", target)
	}
	if from < 0 && !current.IsZero() {
		return 0, 0, oops.New(nil, "database is at unknown version %v", current)
	}
	return from, to, nil
}

func Migrate(targetVersion types.MigrationVersion) error {
	ctx := context.Background()

	conn := db.NewConn()
	defer conn.Close(ctx)

	// create migration table
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS soch_migration (
			version		TIMESTAMP WITH TIME ZONE
		)
	`)
	if err != nil {
		return oops.New(err, "failed to create migration table")
	}

	// ensure there is a row
	numRows, err := db.QueryOneScalar[int64](ctx, conn, "SELECT COUNT(*) FROM soch_migration")
	if err != nil {
		return oops.New(err, "failed to count migration rows")
	}
	if numRows < 1 {
		_, err := conn.Exec(ctx, "INSERT INTO soch_migration (version) VALUES ($1)", time.Time{})
		if err != nil {
			return oops.New(err, "failed to insert initial migration row")
		}
	}

	currentVersion, err := getCurrentVersion(ctx, conn)
	if err != nil {
		return oops.New(err, "failed to get current version")
	}
	if currentVersion.IsZero() {
		fmt.Println("This is the first time you have run database migrations.")
	} else {
		fmt.Printf("Current version: %s\n", currentVersion.String())
	}

	allVersions := getSortedMigrationVersions()
	currentIndex, targetIndex, err := planMigration(allVersions, currentVersion, targetVersion)
	if err != nil {
		return err
	}

	runStep := func(version, newVersion types.MigrationVersion, up bool) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return oops.New(err, "failed to start transaction")
		}
		defer tx.Rollback(ctx)

		migration := migrations.All[version]
		if up {
			fmt.Printf("Applying migration %v (%v)\n", version, migration.Name())
			err = migration.Up(ctx, tx)
		} else {
			fmt.Printf("Rolling back migration %v (%v)\n", version, migration.Name())
			err = migration.Down(ctx, tx)
		}
		if err != nil {
			return oops.New(err, "migration %v failed", version)
		}

		_, err = tx.Exec(ctx, "UPDATE soch_migration SET version = $1", time.Time(newVersion))
		if err != nil {
			return oops.New(err, "failed to update version in migrations table")
		}

		return tx.Commit(ctx)
	}

	if currentIndex < targetIndex {
		for i := currentIndex + 1; i <= targetIndex; i++ {
			if err := runStep(allVersions[i], allVersions[i], true); err != nil {
				return err
			}
		}
	} else if currentIndex > targetIndex {
		for i := currentIndex; i > targetIndex; i-- {
			previousVersion := types.MigrationVersion{}
			if i > 0 {
				previousVersion = allVersions[i-1]
			}
			if err := runStep(allVersions[i], previousVersion, false); err != nil {
				return err
			}
		}
	} else {
		fmt.Println("Already migrated; nothing to do.")
	}

	return nil
}

//go:embed migrationTemplate.txt
var migrationTemplate string

func renderMigration(name, description string, now time.Time) (filename string, source string) {
	source = migrationTemplate
	source = strings.ReplaceAll(source, "%NAME%", name)
	source = strings.ReplaceAll(source, "%DESCRIPTION%", fmt.Sprintf("%#v", description))

	nowConstructor := fmt.Sprintf("time.Date(%d, %d, %d, %d, %d, %d, 0, time.UTC)", now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), now.Second())
	source = strings.ReplaceAll(source, "%DATE%", nowConstructor)

	safeVersion := strings.ReplaceAll(types.MigrationVersion(now).String(), ":", "")
	filename = fmt.Sprintf("%v_%v.go", safeVersion, name)
	return filename, source
}

func MakeMigration(name, description string) {
	filename, source := renderMigration(name, description, time.Now().UTC())
	path := filepath.Join("src", "migration", "migrations", filename)

	err := os.WriteFile(path, []byte(source), 0644)
	if err != nil {
		panic(fmt.Errorf("failed to write migration file: %w", err))
	}

	fmt.Println("Successfully created migration file:")
	fmt.Println(path)
}
