package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/admin"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/api"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/appointment"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/availability"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/booking"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/config"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/db"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/logging"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/metrics"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/notify"
	redisclient "github.com/Elcoletas/Peppiniere-Gissinger-App/internal/redis"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/seed"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/user"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.Env, cfg.LogLevel)
	log.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Str("timezone", cfg.Location.String()).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	shop, err := config.LoadShopProfile(cfg.ShopProfilePath)
	if err != nil {
		log.Fatal().Err(err).Msg("shop profile load error")
	}
	if cfg.OperatorEmail != "" {
		shop.OperatorEmail = cfg.OperatorEmail
	}

	var (
		pgPool   *pgxpool.Pool
		apptRepo appointment.Repository
		users    user.Repository
	)
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.Open(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConns, Migrate: true})
		cancelPg()
		if err != nil {
			log.Fatal().Err(err).Msg("postgres setup error")
		}
		defer pgPool.Close()
		log.Info().Msg("connected to Postgres")

		apptRepo = appointment.NewPgRepository(pgPool)
		users = user.NewPgRepository(pgPool)
	default:
		log.Warn().Msg("using in-memory store, data is lost on restart")
		apptRepo = appointment.NewMemoryRepository()
		users = user.NewMemoryRepository()
	}

	var (
		rdb    *redis.Client
		locker redisclient.Locker
	)
	if cfg.RedisAddr != "" {
		rdb, err = redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error().Err(err).Msg("error closing redis")
			}
		}()
		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		log.Info().Msg("connected to Redis")
	} else {
		locker = redisclient.NewLocalSlotLocker()
	}

	dispatcher := notify.NewDispatcher(newSender(rootCtx, cfg, log), notify.DispatcherConfig{
		Company:       shop.Name,
		OperatorEmail: shop.OperatorEmail,
		Timeout:       cfg.NotifyTimeout,
	}, log)

	store := appointment.NewStore(apptRepo, locker, dispatcher, log)
	index := availability.NewIndex(store, cfg.Location)

	if cfg.StoreDriver == config.StoreMemory {
		opts := seed.Options{Operator: user.User{Name: shop.Name, Email: shop.OperatorEmail, Phone: shop.Phone}}
		if cfg.Env == "dev" {
			opts.Clients, opts.Bookings, opts.Blocks, opts.Days = 10, 15, 3, 14
		}
		// Seeded bookings must not mail fake addresses.
		res, err := seed.Run(rootCtx, users, appointment.NewStore(apptRepo, locker, &notify.Recorder{}, log), opts, index.Now(), log)
		if err != nil {
			log.Fatal().Err(err).Msg("seed in-memory store")
		}
		log.Info().Str("operator_id", res.Operator.ID.String()).Msg("operator account ready")
	}

	hub := api.NewHub(cfg.CORSOrigins, log)
	store.Subscribe(hub.Publish)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	router := api.NewRouter(api.RouterConfig{
		Booking:        booking.NewService(store, index, log),
		Admin:          admin.NewService(store, index, log),
		Index:          index,
		Users:          users,
		Shop:           shop,
		Hub:            hub,
		Health:         api.NewHealthHandler(pgPool, rdb, cfg.Env, version),
		Log:            log,
		RequestTimeout: cfg.RequestTimeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		CORSOrigins:    cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv.RegisterOnShutdown(stopHub)

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info().Msg("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("pending notifications abandoned")
	}

	log.Info().Msg("api-server stopped")
}

// newSender picks Gmail when credentials are complete and falls back to
// logging the messages otherwise.
func newSender(ctx context.Context, cfg config.Config, log zerolog.Logger) notify.Sender {
	if !cfg.Gmail.Complete() {
		log.Warn().Msg("gmail credentials missing, notifications run in simulation mode")
		return notify.NewLogSender(log)
	}
	sender, err := notify.NewGmailSender(ctx, cfg.Gmail)
	if err != nil {
		log.Error().Err(err).Msg("gmail sender setup failed, notifications run in simulation mode")
		return notify.NewLogSender(log)
	}
	return sender
}
