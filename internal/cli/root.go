// Package cli implements the mandaact command-line interface using Cobra.
package cli

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/mandaact/backend/internal/config"
	"github.com/mandaact/backend/internal/database"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "mandaact",
	Short: "MandaAct goal tracking backend",
	Long: `MandaAct serves the gamification engine for mandalart goal boards:
daily action checks, XP and levels, streaks, multipliers and badges.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a TOML config file (default "+config.DefaultPath+" if present)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

func openDB(cfg config.Config) (*sql.DB, error) {
	return database.Connect(cfg.Database)
}
