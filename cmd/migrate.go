package cmd

import (
	"fmt"

	"github.com/jonesrussell/north-cloud/blog-crawler/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/blog-crawler/internal/database"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(newMigrateUpCommand(), newMigrateDownCommand(), newMigrateVersionCommand())
	return cmd
}

func newMigrateUpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := commandDeps()
			if err != nil {
				return err
			}
			db, err := bootstrap.ConnectDatabase(cmd.Context(), deps)
			if err != nil {
				return err
			}
			defer db.Close()

			return database.RunMigrations(db.DB, deps.Logger)
		},
	}
}

func newMigrateDownCommand() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive, got %d", steps)
			}
			deps, err := commandDeps()
			if err != nil {
				return err
			}
			db, err := bootstrap.ConnectDatabase(cmd.Context(), deps)
			if err != nil {
				return err
			}
			defer db.Close()

			return database.MigrateDown(db.DB, steps, deps.Logger)
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func newMigrateVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := commandDeps()
			if err != nil {
				return err
			}
			db, err := bootstrap.ConnectDatabase(cmd.Context(), deps)
			if err != nil {
				return err
			}
			defer db.Close()

			version, dirty, err := database.MigrationVersion(db.DB)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	}
}
