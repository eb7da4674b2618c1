package cli

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mandaact/backend/internal/cache"
	"github.com/mandaact/backend/internal/config"
	"github.com/mandaact/backend/internal/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "Number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := database.Migrate(db); err != nil {
			return err
		}
		reportInvalidate(cmd, cfg.Redis)
		return printVersion(cmd, db)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := database.MigrateDown(db, migrateSteps); err != nil {
			return err
		}
		reportInvalidate(cmd, cfg.Redis)
		return printVersion(cmd, db)
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		return printVersion(cmd, db)
	},
}

func printVersion(cmd *cobra.Command, db *sql.DB) error {
	version, dirty, err := database.Version(db)
	if err != nil {
		return err
	}
	if dirty {
		fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty)\n", version)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
	return nil
}

// invalidateCatalog drops the cached achievement catalog so a migrated
// catalog is read fresh. It reports false when redis is not configured.
func invalidateCatalog(ctx context.Context, cfg config.RedisConfig) (bool, error) {
	if cfg.Addr == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rc, err := cache.NewClient(ctx, cfg)
	if err != nil {
		return false, err
	}
	defer rc.Close()

	if err := cache.NewCatalog(rc, cfg.TTL.Duration, zap.NewNop()).Invalidate(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// reportInvalidate prints the outcome. A failure is only a warning since
// the migration has already committed.
func reportInvalidate(cmd *cobra.Command, cfg config.RedisConfig) {
	ok, err := invalidateCatalog(cmd.Context(), cfg)
	switch {
	case err != nil:
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: achievement cache not cleared: %v\n", err)
	case ok:
		fmt.Fprintln(cmd.OutOrStdout(), "achievement cache cleared")
	}
}
