package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"order-reconciler/internal/app"
	"order-reconciler/internal/config"
	"order-reconciler/internal/middleware"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operator tools for order payment reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Optional .env file to load before reading the environment")

	withApp := func(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) (any, error)) error {
		var files []string
		if envFile != "" {
			files = append(files, envFile)
		}
		cfg, err := config.Load(files...)
		if err != nil {
			return err
		}
		logger := config.NewLogger(cfg.Log)
		logger.SetOutput(cmd.ErrOrStderr())

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := fn(ctx, a)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	}

	rootCmd.AddCommand(syncCmd(withApp))
	rootCmd.AddCommand(retryCmd(withApp))
	rootCmd.AddCommand(drainCmd(withApp))
	rootCmd.AddCommand(eventsCmd(withApp))
	rootCmd.AddCommand(tokenCmd())

	return rootCmd
}

type appRunner func(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) (any, error)) error

func syncCmd(run appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "sync [orderId]",
		Short: "Query the gateway for an order and reconcile the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Payments.Sync(ctx, args[0])
			})
		},
	}
}

func retryCmd(run appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [orderId]",
		Short: "Mint a new invoice for a pending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Payments.Retry(ctx, args[0])
			})
		},
	}
}

func drainCmd(run appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Send one batch of due notifications from the outbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				attempted, err := a.Admin.DrainOutbox(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]int{"attempted": attempted}, nil
			})
		},
	}
}

func eventsCmd(run appRunner) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events [orderId]",
		Short: "Show the reconciliation log of an order, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, a *app.App) (any, error) {
				return a.Admin.Events(ctx, args[0], limit)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum entries")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := middleware.IssueAdminToken(cfg.Admin.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Operator identity recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
