package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-placement/internal/domain/customer"
	"github.com/xenking/order-placement/internal/domain/product"
	"github.com/xenking/order-placement/internal/domain/promo"
	"github.com/xenking/order-placement/internal/storage/postgres"
)

type catalog struct {
	Customers []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"customers"`
	Products []struct {
		ID    int64           `json:"id"`
		Name  string          `json:"name"`
		Price decimal.Decimal `json:"price"`
	} `json:"products"`
	PromoCodes []struct {
		Code      string          `json:"code"`
		Discount  decimal.Decimal `json:"discount"`
		ExpiresAt time.Time       `json:"expiresAt"`
	} `json:"promoCodes"`
}

func main() {
	var (
		databaseURL string
		catalogFile string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to the catalog JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, catalogFile); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, catalogFile string) error {
	slog.Info("reading catalog file", slog.String("path", catalogFile))

	data, err := os.ReadFile(catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}
	var c catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return seed(ctx, tx, c)
	})
}

func seed(ctx context.Context, db postgres.DB, c catalog) error {
	customers := postgres.NewCustomerRepository(db)
	for _, cu := range c.Customers {
		if err := customers.Upsert(ctx, customer.Customer{ID: cu.ID, Name: cu.Name, Email: cu.Email}); err != nil {
			return errors.Wrapf(err, "upsert customer %s", cu.ID)
		}
		slog.Info("upserted customer", slog.String("id", cu.ID))
	}

	products := postgres.NewProductRepository(db)
	for _, p := range c.Products {
		if err := products.Upsert(ctx, product.Product{ID: p.ID, Name: p.Name, Price: p.Price}); err != nil {
			return errors.Wrapf(err, "upsert product %d", p.ID)
		}
		slog.Info("upserted product", slog.Int64("id", p.ID), slog.String("price", p.Price.String()))
	}

	promos := postgres.NewPromoRepository(db)
	for _, p := range c.PromoCodes {
		if err := promos.Upsert(ctx, promo.PromoCode{Code: p.Code, Discount: p.Discount, ExpiresAt: p.ExpiresAt}); err != nil {
			return errors.Wrapf(err, "upsert promo code %s", p.Code)
		}
		slog.Info("upserted promo code", slog.String("code", p.Code), slog.Time("expires_at", p.ExpiresAt))
	}

	return nil
}
