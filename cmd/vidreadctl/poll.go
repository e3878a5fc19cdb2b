package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muzaffar640/vidread-backend/internal/app"
	"github.com/muzaffar640/vidread-backend/internal/config"
	"github.com/muzaffar640/vidread-backend/internal/logger"
	"github.com/muzaffar640/vidread-backend/internal/middleware"
)

var pollOnce bool

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Advance active jobs from the configured store",
	Long: `poll loads the server configuration from the environment and advances
every active job, resuming work left behind by a crashed server. With --once
it makes a single pass and waits for in-process tasks to finish.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		log, closer, err := logger.New(cfg.LogDir, cfg.LogLevel, false)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		if pollOnce {
			n, err := a.PollOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "advanced %d jobs\n", n)
			return err
		}
		a.Start(ctx)
		<-ctx.Done()
		return nil
	},
}

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an API token from JWT_SECRET",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		tok, err := middleware.NewJWTAuth(cfg.JWTSecret).GenerateToken(userID, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	pollCmd.Flags().BoolVar(&pollOnce, "once", false, "make a single pass and exit")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
}
