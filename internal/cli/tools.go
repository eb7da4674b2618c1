package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mandaact/backend/internal/gamification"
	"github.com/mandaact/backend/internal/logger"
	"github.com/mandaact/backend/internal/middleware"
	"github.com/spf13/cobra"
)

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default from config)")
	pruneCmd.Flags().DurationVar(&pruneGrace, "older-than", 0, "Only delete grants that expired at least this long ago")
	rootCmd.AddCommand(levelCmd, tokenCmd, pruneCmd)
}

var (
	tokenTTL   time.Duration
	pruneGrace time.Duration
)

var levelCmd = &cobra.Command{
	Use:   "level <xp>",
	Short: "Show the level and progress for a total XP amount",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		xp, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || xp < 0 {
			return fmt.Errorf("xp must be a non-negative integer, got %q", args[0])
		}
		p := gamification.Progress(xp)
		fmt.Fprintf(cmd.OutOrStdout(), "level %d (%d XP into level, floor %d, next %d, %d%%)\n",
			p.CurrentLevel, p.XPIntoLevel, p.CurrentLevelFloorXP, p.NextLevelFloorXP, p.PercentToNext)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a development API token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", args[0], err)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL.Duration
		}
		token, err := middleware.GenerateToken([]byte(cfg.Auth.JWTSecret), userID, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune-bonuses",
	Short: "Delete expired bonus XP grants",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := logger.New(cfg.Logging)
		if err != nil {
			return err
		}
		defer log.Sync()

		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		before := time.Now().UTC().Add(-pruneGrace)
		n, err := gamification.NewStore(db, log).PruneExpiredBonuses(ctx, before)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d expired bonus grants\n", n)
		return nil
	},
}
