package main

import (
	"context"
	"flag"
	"time"

	"github.com/rs/zerolog"

	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/appointment"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/config"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/db"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/logging"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/notify"
	redisclient "github.com/Elcoletas/Peppiniere-Gissinger-App/internal/redis"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/seed"
	"github.com/Elcoletas/Peppiniere-Gissinger-App/internal/user"
)

func main() {
	clients := flag.Int("clients", 200, "demo clients to create")
	bookings := flag.Int("bookings", 150, "booking attempts spread over the coming days")
	blocks := flag.Int("blocks", 10, "slots to block")
	days := flag.Int("days", 30, "calendar days ahead to fill")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "info")
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logging.New(cfg.Env, cfg.LogLevel)
	log.Info().Msg("seed starting")

	if cfg.StoreDriver != config.StorePostgres {
		log.Fatal().Msg("seeding needs STORE_DRIVER=postgres; the memory store seeds itself at startup")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.Open(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: cfg.PostgresMaxConns, Migrate: true})
	if err != nil {
		log.Fatal().Err(err).Msg("postgres setup error")
	}
	defer pool.Close()

	shop, err := config.LoadShopProfile(cfg.ShopProfilePath)
	if err != nil {
		log.Fatal().Err(err).Msg("shop profile load error")
	}
	if cfg.OperatorEmail != "" {
		shop.OperatorEmail = cfg.OperatorEmail
	}

	// Demo bookings are never mailed.
	store := appointment.NewStore(appointment.NewPgRepository(pool), redisclient.NewLocalSlotLocker(), &notify.Recorder{}, zerolog.Nop())

	res, err := seed.Run(ctx, user.NewPgRepository(pool), store, seed.Options{
		Operator: user.User{Name: shop.Name, Email: shop.OperatorEmail, Phone: shop.Phone},
		Clients:  *clients,
		Bookings: *bookings,
		Blocks:   *blocks,
		Days:     *days,
	}, time.Now().In(cfg.Location), log)
	if err != nil {
		log.Fatal().Err(err).Msg("seed")
	}

	log.Info().
		Str("operator_id", res.Operator.ID.String()).
		Int("clients", len(res.Clients)).
		Int("booked", res.Booked).
		Int("blocked", res.Blocked).
		Msg("seed complete")
}
