package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"rentflow/internal/api"
	"rentflow/internal/app"
	"rentflow/internal/config"
	"rentflow/internal/database"
	"rentflow/internal/export"
	"rentflow/internal/logging"
	"rentflow/internal/models"
	"rentflow/internal/sweeper"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "rentctl",
		Short:         "Operator tool for the rentflow booking engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}
	rootCmd.PersistentFlags().String("config", defaultConfig, "path to the config file")

	rootCmd.AddCommand(
		sweepCmd(),
		exportCmd(),
		backupCmd(),
		deadLettersCmd(),
		tokenCmd(),
	)
	return rootCmd
}

// withApp loads config, builds the application and closes it after fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App, logger *zerolog.Logger) error) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, logging.Component(logger, "rentctl"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, logger)
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Complete confirmed bookings whose stay has ended",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ *zerolog.Logger) error {
				opts := a.SweepOptions()
				if cmd.Flags().Changed("batch-size") {
					opts.BatchSize, _ = cmd.Flags().GetInt("batch-size")
				}
				if cmd.Flags().Changed("lookback-days") {
					opts.LookbackDays, _ = cmd.Flags().GetInt("lookback-days")
				}
				opts.DryRun, _ = cmd.Flags().GetBool("dry-run")

				report, err := a.Sweeper.Run(ctx, opts)
				if errors.Is(err, sweeper.ErrAlreadyRunning) {
					fmt.Fprintln(cmd.OutOrStdout(), "Another sweep is running, nothing to do.")
					return nil
				}
				if err != nil {
					return err
				}
				if err := deliverPending(ctx, a); err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	cmd.Flags().Int("batch-size", models.DefaultSweepBatchSize, "bookings locked per transaction")
	cmd.Flags().Int("lookback-days", models.DefaultSweepLookbackDays, "only scan stays ended within this many days; 0 scans all")
	cmd.Flags().Bool("dry-run", false, "report candidates without changing anything")
	return cmd
}

// deliverPending flushes notifications written by a one-off run.
func deliverPending(ctx context.Context, a *app.App) error {
	for {
		n, err := a.Worker.ProcessPending(ctx)
		if err != nil {
			return fmt.Errorf("deliver notifications: %w", err)
		}
		if n < a.Config.Notifications.BatchSize {
			return nil
		}
	}
}

func printReport(w io.Writer, r *sweeper.Report) {
	if r.DryRun {
		fmt.Fprintf(w, "Dry run: %d booking(s) would be completed.\n", r.Candidates)
		for _, c := range r.Sample {
			fmt.Fprintf(w, "- booking %d (ended %s)\n", c.ID, models.FormatDate(c.EndDate))
		}
		return
	}
	fmt.Fprintf(w, "Candidates: %d\nCompleted: %d\nSkipped: %d\nBatches: %d (failed: %d)\n",
		r.Candidates, r.Completed, r.Skipped, r.Batches, r.FailedBatches)
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write bookings starting in a date range to an Excel workbook",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromRaw, _ := cmd.Flags().GetString("from")
			toRaw, _ := cmd.Flags().GetString("to")
			from, err := models.ParseDate(fromRaw)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			to, err := models.ParseDate(toRaw)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			propertyID, _ := cmd.Flags().GetInt64("property")
			out, _ := cmd.Flags().GetString("out")

			return withApp(cmd, func(ctx context.Context, a *app.App, logger *zerolog.Logger) error {
				exporter := a.Exporter
				if out != "" {
					exporter = export.NewExporter(a.DB, out, logging.Component(logger, "export"))
				}
				path, err := exporter.Export(ctx, from, to, propertyID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	cmd.Flags().String("from", "", "first start date, YYYY-MM-DD")
	cmd.Flags().String("to", "", "last start date, YYYY-MM-DD")
	cmd.Flags().Int64("property", 0, "limit to one property")
	cmd.Flags().String("out", "", "output directory (defaults to exports.path)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Copy the sqlite database into the backup directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App, _ *zerolog.Logger) error {
				path, err := a.Backup.PerformBackup(ctx)
				if errors.Is(err, database.ErrBackupUnsupported) {
					return fmt.Errorf("backup is only available for file-backed sqlite: %w", err)
				}
				if err != nil {
					return err
				}
				removed := a.Backup.CleanupOldBackups()
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n(removed %d expired backup(s))\n", path, removed)
				return nil
			})
		},
	}
}

func deadLettersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "List notifications that exhausted their delivery retries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			requeue, _ := cmd.Flags().GetBool("requeue")
			return withApp(cmd, func(ctx context.Context, a *app.App, _ *zerolog.Logger) error {
				out := cmd.OutOrStdout()
				failed, err := a.DB.GetFailedDeliveries(ctx)
				if err != nil {
					return err
				}
				if len(failed) == 0 {
					fmt.Fprintln(out, "No dead-lettered notifications.")
					return nil
				}
				for _, n := range failed {
					fmt.Fprintf(out, "- #%d %s to user %d (retries %d): %s\n", n.ID, n.Kind, n.RecipientID, n.RetryCount, n.LastError)
				}
				if !requeue {
					return nil
				}
				count, err := a.DB.RequeueFailedDeliveries(ctx)
				if err != nil {
					return err
				}
				if err := deliverPending(ctx, a); err != nil {
					return err
				}
				fmt.Fprintf(out, "Requeued %d notification(s).\n", count)
				return nil
			})
		},
	}
	cmd.Flags().Bool("requeue", false, "move them back into the outbox and deliver")
	return cmd
}

// tokenCmd signs a bearer token, for local testing of the HTTP API.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for an actor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.API.Auth.JWTSecret == "" {
				return errors.New("api.auth.jwt_secret is not set")
			}
			id, _ := cmd.Flags().GetInt64("user")
			if id <= 0 {
				return errors.New("--user must be positive")
			}
			rawRole, _ := cmd.Flags().GetString("role")
			role, err := models.ParseRole(rawRole)
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")

			tok, err := api.IssueToken(cfg.API.Auth, models.Actor{ID: id, Role: role}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().Int64("user", 0, "actor id")
	cmd.Flags().String("role", string(models.RoleRenter), "renter or landlord")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}
