package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/order-placement/internal/container"
	"github.com/xenking/order-placement/internal/domain/delivery"
	"github.com/xenking/order-placement/internal/handler"
	"github.com/xenking/order-placement/internal/messaging"
	"github.com/xenking/order-placement/internal/shippingrate"
	"github.com/xenking/order-placement/internal/storage/postgres"
	"github.com/xenking/order-placement/pkg/health"
	"github.com/xenking/order-placement/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	rates, err := newRateProvider(cfg.Shipping, m)
	if err != nil {
		return errors.Wrap(err, "rate provider")
	}

	opts := []container.Option{
		container.WithRateProvider(rates),
		container.WithTelemetry(m.TracerProvider(), m.MeterProvider()),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic,
			messaging.WithTracerProvider(m.TracerProvider()),
		)
		defer func() {
			if err := producer.Close(); err != nil {
				lg.Error("Close producer", zap.Error(err))
			}
		}()
		opts = append(opts, container.WithPublisher(producer))
		lg.Info("Publishing order events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	c, err := container.New(ctx, &container.Settings{DatabaseURL: cfg.DatabaseURL}, opts...)
	if err != nil {
		return errors.Wrap(err, "build container")
	}
	defer c.Close()

	if err := migrate(ctx, c); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New(lg.Named("health"))
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(c))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})
	go limiter.Run(ctx)

	r := chi.NewRouter()
	r.Use(chimw.RealIP, httpmiddleware.LabelRoute(), httpmiddleware.LogRequests())
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	handler.New(c).Mount(r, limiter.Middleware())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Instrument("order-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func newRateProvider(cfg ShippingConfig, m *app.Telemetry) (delivery.RateProvider, error) {
	if cfg.URL == "" {
		fee, err := cfg.Fee()
		if err != nil {
			return nil, err
		}
		return shippingrate.Flat{Fee: fee}, nil
	}
	client, err := shippingrate.NewClient(cfg.URL,
		shippingrate.WithTimeout(cfg.Timeout),
		shippingrate.WithTelemetry(m.TracerProvider(), m.MeterProvider()),
	)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// migrate applies the schema over a connection borrowed for one scope.
func migrate(ctx context.Context, c *container.Container) error {
	scope := c.NewScope()
	defer scope.Close()
	return postgres.RunMigrations(ctx, scope.DB())
}
