package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-booking-engine/internal/appointment"
	"github.com/hackgods/clinic-booking-engine/internal/config"
	"github.com/hackgods/clinic-booking-engine/internal/db"
	"github.com/hackgods/clinic-booking-engine/internal/logging"
	redisclient "github.com/hackgods/clinic-booking-engine/internal/redis"
	"github.com/hackgods/clinic-booking-engine/internal/reconcile"
)

type options struct {
	dryRun      bool
	logDir      string
	auditFile   string
	auditSQLite string
	batchSize   int
	noLock      bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "fix-duplicates",
		Short: "Find and remove duplicate appointments",
		Long: `Runs three passes over all appointments: exact duplicates, fuzzy
name or contact matches in the same slot, and overlapping bookings of the
same patient. The earliest created appointment is always kept. Every
decision is written to the audit log before anything is deleted.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("log-dir") {
				opts.logDir = cfg.LogDir
			}
			if !cmd.Flags().Changed("audit-file") {
				opts.auditFile = cfg.AuditFile
			}
			if !cmd.Flags().Changed("audit-sqlite") {
				opts.auditSQLite = cfg.AuditSQLitePath
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, opts, cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.dryRun, "dry-run", false, "audit decisions without deleting anything")
	f.StringVar(&opts.logDir, "log-dir", "logs", "directory for the timestamped run log")
	f.StringVar(&opts.auditFile, "audit-file", "", "JSON lines audit log (default from AUDIT_FILE)")
	f.StringVar(&opts.auditSQLite, "audit-sqlite", "", "also record decisions in this SQLite file")
	f.IntVar(&opts.batchSize, "batch-size", 500, "appointments loaded per query")
	f.BoolVar(&opts.noLock, "no-lock", false, "skip the Redis run lock")

	return cmd
}

func run(ctx context.Context, cfg config.Config, opts options, out io.Writer) error {
	started := time.Now()

	runLog, err := logging.OpenRunLog(opts.logDir, "fix-duplicates", started)
	if err != nil {
		return err
	}
	defer runLog.Close()

	logger := logging.New("fix-duplicates", cfg.IsProduction(), cfg.LogLevel, runLog)
	logger.Info().Str("log_file", runLog.Name()).Bool("dry_run", opts.dryRun).Msg("fix-duplicates starting")

	if cfg.StorageDriver != config.StorageDriverPostgres {
		err := fmt.Errorf("fix-duplicates needs STORAGE_DRIVER=%s", config.StorageDriverPostgres)
		logger.Error().Err(err).Msg("unsupported storage")
		return err
	}

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error().Err(err).Msg("postgres connection error")
		return err
	}
	defer pool.Close()

	pgAudit := reconcile.NewPgAuditLog(pool)
	if err := pgAudit.EnsureTable(ctx); err != nil {
		logger.Error().Err(err).Msg("prepare audit table")
		return err
	}

	fileAudit, err := reconcile.OpenFileAuditLog(opts.auditFile)
	if err != nil {
		logger.Error().Err(err).Msg("open audit file")
		return err
	}
	defer fileAudit.Close()

	audit := reconcile.MultiAudit{fileAudit, pgAudit}
	if opts.auditSQLite != "" {
		sqliteAudit, err := reconcile.OpenSQLiteAuditLog(ctx, opts.auditSQLite)
		if err != nil {
			logger.Error().Err(err).Msg("open sqlite audit store")
			return err
		}
		defer sqliteAudit.Close()
		audit = append(audit, sqliteAudit)
	}

	engine := reconcile.NewEngine(
		appointment.NewPgRepository(pool),
		audit,
		logger,
		reconcile.WithDryRun(opts.dryRun),
		reconcile.WithBatchSize(opts.batchSize),
	)

	var sum reconcile.Summary
	err = withRunLock(ctx, cfg, opts, logger, func(ctx context.Context) error {
		var runErr error
		sum, runErr = engine.Run(ctx)
		return runErr
	})

	printSummary(out, sum, time.Since(started))
	if err != nil {
		logger.Error().Err(err).Msg("fix-duplicates failed")
		return err
	}
	logger.Info().Int("total", sum.Total()).Msg("fix-duplicates complete")
	return nil
}

// withRunLock keeps two reconciliation runs from overlapping. Without Redis
// the run proceeds unlocked and the operator is warned.
func withRunLock(ctx context.Context, cfg config.Config, opts options, logger zerolog.Logger, fn func(context.Context) error) error {
	if opts.noLock || !cfg.RedisEnabled {
		logger.Warn().Msg("running without the reconciliation lock")
		return fn(ctx)
	}

	rdb, err := redisclient.Connect(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, running without the reconciliation lock")
		return fn(ctx)
	}
	defer rdb.Close()

	err = redisclient.NewRedisLocker(rdb, cfg.ReconcileLockTTL).WithLock(ctx, redisclient.ReconcileKey, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return fmt.Errorf("another fix-duplicates run holds %s: %w", redisclient.ReconcileKey, err)
	}
	return err
}

func printSummary(out io.Writer, sum reconcile.Summary, took time.Duration) {
	verb := "removed"
	if sum.DryRun {
		verb = "would remove"
	}

	fmt.Fprintf(out, "\nDuplicate reconciliation %s (run %s, %s)\n", verb, sum.RunID, took.Round(time.Millisecond))
	fmt.Fprintf(out, "  exact duplicates:    %d\n", sum.Exact)
	fmt.Fprintf(out, "  fuzzy duplicates:    %d\n", sum.Fuzzy)
	fmt.Fprintf(out, "  overlapping slots:   %d\n", sum.Overlap)
	fmt.Fprintf(out, "  total:               %d\n", sum.Total())
}
