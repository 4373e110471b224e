package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/order-placement/internal/promoingest"
	"github.com/xenking/order-placement/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		minSources  int
		capacity    uint
		dryRun      bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&minSources, "min-sources", 2, "number of feeds that must list a code")
	flag.UintVar(&capacity, "capacity", 1_000_000, "expected codes per feed, sizes the bloom filters")
	flag.BoolVar(&dryRun, "dry-run", false, "report accepted codes without writing them")
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: promo-ingest [flags] feed.gz [feed.gz ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	feeds := flag.Args()
	if len(feeds) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := promoingest.Config{
		MinSources:    minSources,
		Capacity:      capacity,
		ProgressEvery: 1_000_000,
		Logger:        slog.Default(),
	}
	if err := run(ctx, databaseURL, feeds, cfg, dryRun); err != nil {
		slog.Error("ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL string, feeds []string, cfg promoingest.Config, dryRun bool) error {
	slog.Info("ingesting feeds", slog.Int("feeds", len(feeds)), slog.Int("min_sources", cfg.MinSources))

	codes, stats, err := promoingest.Ingest(ctx, feeds, cfg)
	if err != nil {
		return errors.Wrap(err, "ingest")
	}
	slog.Info("feeds processed",
		slog.Uint64("lines", stats.Lines),
		slog.Uint64("malformed", stats.Malformed),
		slog.Int("accepted", stats.Accepted),
	)

	if dryRun {
		for _, p := range codes {
			slog.Info("accepted", slog.String("code", p.Code), slog.String("discount", p.Discount.String()), slog.Time("expires_at", p.ExpiresAt))
		}
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return promoingest.Write(ctx, postgres.NewPromoRepository(tx), codes, slog.Default())
	})
}
