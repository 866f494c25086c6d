package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/escape-reception/internal/booking"
	"github.com/iliyamo/escape-reception/internal/config" // Internal config loader
	"github.com/iliyamo/escape-reception/internal/database"
	"github.com/iliyamo/escape-reception/internal/game"
	"github.com/iliyamo/escape-reception/internal/handler"
	"github.com/iliyamo/escape-reception/internal/logger"
	"github.com/iliyamo/escape-reception/internal/middleware"
	"github.com/iliyamo/escape-reception/internal/queue"
	"github.com/iliyamo/escape-reception/internal/repository"
	"github.com/iliyamo/escape-reception/internal/router" // Internal router setup
	"github.com/iliyamo/escape-reception/internal/scheduler"
	queue_publisher "github.com/iliyamo/escape-reception/internal/service"
	"github.com/iliyamo/escape-reception/internal/token"
)

// stores groups the persistence chosen by STORAGE.
type stores struct {
	reservations repository.ReservationStore
	users        handler.UserStore
	tokens       handler.RefreshStore
	db           *sql.DB // nil with STORAGE=memory
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Warn("failed to load .env", slog.Any("err", err))
	}
	cfg := config.Load() // Load environment config

	log := logger.New(os.Stdout, cfg.LogLevel)
	logger.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if st.db != nil {
		defer st.db.Close()
	}

	auth, err := token.NewAuthority(cfg.SessionSecret, cfg.TokenMode, cfg.TokenWindow)
	if err != nil {
		return err
	}
	ledger := booking.NewLedger(st.reservations, cfg.MaxGroupSize, cfg.CapacityPolicy, log)

	// ---- Events ----
	var notifier game.Notifier
	if cfg.RabbitMQURL != "" {
		pub, sender := queue_publisher.NewRabbit(cfg.RabbitMQURL, 256, log)
		defer sender.Close()
		go pub.Run(ctx)
		notifier = pub
		if cfg.AuditConsumer {
			consumer := &queue.AuditConsumer{URL: cfg.RabbitMQURL, LogPath: cfg.AuditLogPath, Log: log}
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("audit consumer stopped", slog.Any("err", err))
				}
			}()
		}
	} else {
		log.Info("RABBITMQ_URL not set, reception events disabled")
	}

	controller := game.NewController(st.reservations, auth, game.Options{
		Ceiling:  cfg.ForcedStop,
		Notifier: notifier,
		Logger:   log,
	})
	if err := controller.Reconcile(ctx); err != nil {
		log.Error("initial reconcile failed", slog.Any("err", err))
	}

	// ---- Redis ----
	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		log.Warn("redis unavailable, rate limit and ranking cache disabled")
	} else {
		defer rdb.Close()
	}
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), rdb)
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	if created, err := handler.EnsureStaff(ctx, st.users, cfg.StaffBootstrapEmail, cfg.StaffBootstrapPassword, cfg.BcryptCost); err != nil {
		return err
	} else if created {
		log.Info("bootstrap staff account created", slog.String("email", cfg.StaffBootstrapEmail))
	}

	// ---- Background jobs ----
	sched := scheduler.New(log, 5*time.Second)
	if err := sched.Every("forced-stop", cfg.TickInterval, func(ctx context.Context) error {
		stopped, err := controller.Sweep(ctx)
		if len(stopped) > 0 {
			if _, perr := cache.Purge(ctx); perr != nil {
				log.Warn("ranking cache purge failed", slog.Any("err", perr))
			}
		}
		return err
	}); err != nil {
		return err
	}
	watcher := game.NewCheckInWatcher(st.reservations, notifier, log)
	if err := sched.Every("checkin-poll", cfg.CheckInPollInterval, func(ctx context.Context) error {
		_, err := watcher.Poll(ctx)
		return err
	}); err != nil {
		return err
	}
	sched.Start()

	// ---- HTTP ----
	e := router.New()
	router.RegisterRoutes(e, healthChecks(st.db, rdb))
	authHandler := handler.NewAuthHandler(cfg, st.users, st.tokens)
	router.RegisterAuth(e, authHandler, cfg.JWTSecret)
	router.RegisterReception(e, &handler.ReceptionHandler{
		Ledger:   ledger,
		Auth:     auth,
		Store:    st.reservations,
		Game:     controller,
		Notifier: notifier,
		VenueTZ:  cfg.VenueTZ,
		BaseURL:  cfg.PublicBaseURL,
	}, limiter, cache.Middleware())
	router.RegisterStaff(e,
		&handler.StaffHandler{Store: st.reservations, Auth: auth, Game: controller, BaseURL: cfg.PublicBaseURL},
		&handler.GameHandler{Game: controller, Cache: cache},
		authHandler, cfg.JWTSecret)

	addr := ":" + cfg.Port // Address string with port
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", slog.String("addr", addr), slog.String("env", cfg.Env), slog.String("storage", cfg.Storage))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sched.Stop(shutdownCtx)
	return e.Shutdown(shutdownCtx)
}

func openStores(ctx context.Context, cfg config.Config, log *slog.Logger) (stores, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("STORAGE=memory: reservations are lost on restart")
		return stores{
			reservations: repository.NewMemoryStore(),
			users:        repository.NewMemoryUserRepo(),
			tokens:       repository.NewMemoryTokenRepo(),
		}, nil
	}
	db, err := database.Open(ctx, cfg.DSN())
	if err != nil {
		return stores{}, err
	}
	version, err := database.Migrate(db)
	if err != nil {
		_ = db.Close()
		return stores{}, err
	}
	log.Info("database ready", slog.Uint64("schema_version", uint64(version)))
	return stores{
		reservations: repository.NewReservationRepo(db),
		users:        repository.NewUserRepo(db),
		tokens:       repository.NewTokenRepo(db),
		db:           db,
	}, nil
}

func healthChecks(db *sql.DB, rdb *redis.Client) map[string]handler.Check {
	checks := map[string]handler.Check{}
	if db != nil {
		checks["mysql"] = db.PingContext
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	return checks
}
