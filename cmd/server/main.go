package main

import (
	"context"
	"time"

	"github.com/joho/godotenv"

	"github.com/finledger/reconcile/internal/config"
	"github.com/finledger/reconcile/internal/events/kafka"
	"github.com/finledger/reconcile/internal/httpapi"
	"github.com/finledger/reconcile/internal/interfaces"
	"github.com/finledger/reconcile/internal/logger"
	"github.com/finledger/reconcile/internal/recon"
	"github.com/finledger/reconcile/internal/storage/memory"
	"github.com/finledger/reconcile/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		panic(err)
	}
	log := logger.WithComponent("server")

	var store interfaces.Store
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect to postgres")
		}
		defer pg.Close()
		store = pg
		log.Info().Msg("using postgres store")
	} else {
		store = memory.NewStore()
		log.Info().Msg("no DATABASE_URL set, using in-memory store")
	}

	var publisher interfaces.EventPublisher = interfaces.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafka.NewPublisher(cfg.KafkaBrokers)
		defer kp.Close()
		publisher = kp
		log.Info().Strs("brokers", cfg.KafkaBrokers).Msg("publishing events to kafka")
	}

	engine := recon.NewEngine(store, publisher, logger.WithComponent("recon"),
		recon.WithOverpaymentPolicy(recon.OverpaymentPolicy(cfg.OverpaymentPolicy)),
		recon.WithRetry(cfg.ReconMaxAttempts, 0),
	)

	router := httpapi.NewRouter(engine, logger.WithComponent("http"))

	log.Info().Str("addr", cfg.HTTPAddr).Msg("starting server")
	if err := router.Run(cfg.HTTPAddr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
