package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-engine/internal/api"
	"github.com/hackgods/clinic-booking-engine/internal/appointment"
	"github.com/hackgods/clinic-booking-engine/internal/config"
	"github.com/hackgods/clinic-booking-engine/internal/db"
	"github.com/hackgods/clinic-booking-engine/internal/directory"
	"github.com/hackgods/clinic-booking-engine/internal/logging"
	"github.com/hackgods/clinic-booking-engine/internal/notify"
	redisclient "github.com/hackgods/clinic-booking-engine/internal/redis"
	"github.com/hackgods/clinic-booking-engine/internal/schedule"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("api-server", false, "info")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New("api-server", cfg.IsProduction(), cfg.LogLevel)
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("storage", cfg.StorageDriver).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("api-server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("api-server stopped")
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	var (
		repo     appointment.Repository
		store    schedule.Store
		tx       db.TxRunner = db.NoTx{}
		doctors  directory.Directory
		pgPinger api.Pinger
		fallback *directory.StaticDirectory
	)

	if cfg.DoctorDirectoryFile != "" {
		static, err := directory.LoadStaticDirectory(cfg.DoctorDirectoryFile)
		if err != nil {
			return err
		}
		fallback = static
	}

	switch cfg.StorageDriver {
	case config.StorageDriverPostgres:
		pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancelPg()
		if err != nil {
			return err
		}
		defer pool.Close()
		logger.Info().Msg("connected to Postgres")

		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}

		pgPinger = pool
		repo = appointment.NewPgRepository(pool)
		store = schedule.NewPgStore(pool)
		tx = db.NewPgTxRunner(pool)

		ds := directory.DataSource{
			Primary: directory.NewPgDirectory(pool),
			Healthy: func(ctx context.Context) bool {
				return pool.Ping(ctx) == nil
			},
		}
		if fallback != nil {
			ds.Fallback = fallback
		}
		doctors = ds

	case config.StorageDriverMemory:
		mem := schedule.NewMemoryStore()
		if fallback != nil {
			seedMemorySchedules(mem, fallback)
		} else {
			fallback = directory.NewStaticDirectory()
		}
		repo = appointment.NewMemoryRepository()
		store = mem
		doctors = fallback
		logger.Warn().Msg("using in-memory storage, data is lost on restart")
	}

	var (
		locker      redisclient.Locker = redisclient.NoopLocker{}
		redisPinger api.Pinger
	)
	if cfg.RedisEnabled {
		rdb, err := redisclient.Connect(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			// The slot lock is an optimisation; bookings stay safe without it.
			logger.Warn().Err(err).Msg("redis unavailable, slot locking disabled")
		} else {
			defer closeRedis(rdb, logger)
			locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL)
			redisPinger = api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
			logger.Info().Msg("connected to Redis")
		}
	}

	notifier, closeNotifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	gen := schedule.NewGenerator(store)
	validator := schedule.NewValidator(gen)

	svc := appointment.NewService(repo, validator, appointment.Options{
		Tx:            tx,
		Locker:        locker,
		Notifier:      notifier,
		Doctors:       doctors,
		Logger:        logger.With().Str("component", "booking").Logger(),
		NotifyTimeout: cfg.NotifyTimeout,
	})

	router := api.NewRouter(api.RouterConfig{
		Service:  svc,
		Slots:    gen,
		Checker:  validator,
		Doctors:  doctors,
		Postgres: pgPinger,
		Redis:    redisPinger,
		Location: cfg.ClinicLocation,
		Logger:   logger.With().Str("component", "http").Logger(),
		Env:      cfg.Env,
		Version:  version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Dur("timeout", cfg.ShutdownTimeout).Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}

	// Let in-flight booking notifications finish before connections close.
	done := make(chan struct{})
	go func() {
		svc.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("gave up waiting for notifications")
	}

	return nil
}

func buildNotifier(cfg config.Config, logger zerolog.Logger) (notify.Notifier, func(), error) {
	log := logger.With().Str("component", "notify").Logger()

	switch cfg.NotifyDriver {
	case config.NotifyDriverWebhook:
		return notify.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret, log), func() {}, nil
	case config.NotifyDriverAMQP:
		n, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			return nil, nil, err
		}
		return n, func() {
			if err := n.Close(); err != nil {
				log.Warn().Err(err).Msg("close amqp connection")
			}
		}, nil
	}
	return notify.NewNoopNotifier(log), func() {}, nil
}

// seedMemorySchedules gives every directory doctor a weekday template so the
// in-memory mode is usable for demos.
func seedMemorySchedules(store *schedule.MemoryStore, doctors *directory.StaticDirectory) {
	for _, d := range doctors.All() {
		for day := time.Monday; day <= time.Friday; day++ {
			store.PutTemplate(schedule.Template{
				DoctorID:     d.ID,
				DayOfWeek:    day,
				IsActive:     true,
				StartTime:    "09:00",
				EndTime:      "17:00",
				SlotDuration: 30,
				BreakStart:   ptr("13:00"),
				BreakEnd:     ptr("14:00"),
			})
		}
	}
}

func ptr(s string) *string { return &s }

func closeRedis(rdb *redis.Client, logger zerolog.Logger) {
	if err := rdb.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing redis")
	}
}
