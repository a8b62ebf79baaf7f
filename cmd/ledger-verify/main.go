// ledger-verify scans every obligation in a Postgres database and reports
// the ones whose stored aggregates disagree with the sum of their ledger
// entries. Read-only; exits nonzero when drift is found.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"

	"github.com/finledger/reconcile/internal/config"
	"github.com/finledger/reconcile/internal/interfaces"
	"github.com/finledger/reconcile/internal/logger"
	"github.com/finledger/reconcile/internal/recon"
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
	log := logger.WithComponent("ledger-verify")

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	ctx := context.Background()
	store, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect to postgres")
	}
	defer store.Close()

	engine := recon.NewEngine(store, interfaces.NopPublisher{}, log)

	obligations, err := engine.ListObligations(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("list obligations")
	}

	drifted := 0
	for _, o := range obligations {
		drift, err := engine.VerifyObligation(ctx, o.ID)
		if err != nil {
			log.Error().Err(err).Str("obligation_id", o.ID).Msg("verify failed")
			drifted++
			continue
		}
		if !drift.InSync {
			drifted++
			log.Warn().Str("obligation_id", o.ID).
				Str("stored_settled", drift.StoredSettled.String()).
				Str("computed_settled", drift.ComputedSettled.String()).
				Msg("aggregates drifted from ledger entries")
		}
	}

	log.Info().Int("checked", len(obligations)).Int("drifted", drifted).Msg("verification complete")
	if drifted > 0 {
		os.Exit(1)
	}
}
