package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand. Output goes to out.
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("migrate: action required")
	}

	migrationsFS, err := getMigrationsFS()
	if err != nil {
		return err
	}
	// migrations manage the schema, so open without running them
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(out, "All migrations applied")
	case "down":
		if err := database.MigrateDown(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(out, "Rolled back one migration")
	case "status":
		version, dirty, err := database.MigrateVersion(migrationsFS)
		if err != nil {
			return err
		}
		latest, err := LatestMigrationVersion(migrationsFS)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Current version: %d\nLatest version: %d\nDirty: %v\n", version, latest, dirty)
		if dirty {
			fmt.Fprintln(out, "A migration failed mid-execution; inspect the database and run: pickplace migrate force <version>")
		}
	case "version", "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: pickplace migrate %s <version_number>", action)
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if action == "force" {
			err = database.MigrateForce(migrationsFS, v)
		} else {
			err = database.MigrateTo(migrationsFS, uint(v))
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Database at version %d\n", v)
	case "help":
		PrintMigrateHelp(out)
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
	return nil
}

// PrintMigrateHelp lists the migrate actions.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: pickplace migrate <action> [args]

Actions:
  up                 Apply all pending migrations
  down               Roll back the most recent migration
  status             Show current and latest schema versions
  version <n>        Migrate up or down to version n
  force <n>          Force the recorded version (recovery only)
  help               Show this help
`)
}
