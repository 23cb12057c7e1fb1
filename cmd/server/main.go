package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rentloop-be/internal/api"
	"rentloop-be/internal/clock"
	"rentloop-be/internal/config"
	"rentloop-be/internal/db"
	"rentloop-be/internal/invoice"
	"rentloop-be/internal/logger"
	"rentloop-be/internal/metrics"
	"rentloop-be/internal/middleware"
	"rentloop-be/internal/order"
	"rentloop-be/internal/payment"
	"rentloop-be/internal/pricing"
	"rentloop-be/internal/product"
	"rentloop-be/internal/quotation"
	"rentloop-be/internal/reservation"
	"rentloop-be/internal/storage/memory"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	sweepBatch        = 100
	limiterSweep      = time.Minute
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

var (
	initDBFunc      = db.NewDatabase
	startServerFunc = func(srv *http.Server) error { return srv.ListenAndServe() }
)

func main() {
	if err := run(); err != nil {
		logger.L().Fatal("server stopped", zap.Error(err))
	}
}

func run() error {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	var database *sql.DB
	if cfg.Storage == config.StoragePostgres {
		var err error
		database, err = initDBFunc(cfg)
		if err != nil {
			return err
		}
		defer database.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newServer(cfg, database, clock.NewSystem()).serve(ctx)
}

// repositories is one storage backend behind the domain interfaces.
type repositories struct {
	products   product.Repository
	holds      reservation.Repository
	quotations quotation.Repository
	orders     order.Repository
	invoices   invoice.Repository
	payments   payment.Repository
	tx         db.TxManager
	health     api.Pinger
}

func postgresRepositories(database *sql.DB, cfg *config.Config) repositories {
	return repositories{
		products:   product.NewRepository(database),
		holds:      reservation.NewRepository(database),
		quotations: quotation.NewRepository(database),
		orders:     order.NewRepository(database),
		invoices:   invoice.NewRepository(database),
		payments:   payment.NewRepository(database),
		tx:         db.NewTxManager(database, cfg.LedgerLockTimeout),
		health:     database,
	}
}

func memoryRepositories(now time.Time) repositories {
	store := memory.New()
	store.SeedDemo(now)
	return repositories{
		products:   store.Products(),
		holds:      store.Holds(),
		quotations: store.Quotations(),
		orders:     store.Orders(),
		invoices:   store.Invoices(),
		payments:   store.Payments(),
		tx:         store,
	}
}

type server struct {
	cfg     *config.Config
	handler http.Handler
	quotes  quotation.Service
	queue   *quotation.SyncQueue
	limiter *middleware.RateLimiter
}

// newServer wires services over database, or over a seeded in-memory store when
// database is nil.
func newServer(cfg *config.Config, database *sql.DB, clk clock.Clock) *server {
	repos := memoryRepositories(clk.Now())
	if database != nil {
		repos = postgresRepositories(database, cfg)
	}

	retry := db.DefaultRetryPolicy
	if cfg.LedgerMaxAttempts > 0 {
		retry.MaxAttempts = cfg.LedgerMaxAttempts
	}

	ledgerStats, paymentStats := &metrics.Ledger{}, &metrics.Payments{}
	ledger := reservation.NewLedger(repos.holds, repos.tx, clk,
		reservation.WithRetryPolicy(retry),
		reservation.WithMetrics(ledgerStats),
	)
	products := product.NewService(repos.products)
	quotes := quotation.NewService(repos.quotations, ledger, products, clk, cfg.QuotationTTL)
	orders := order.NewService(repos.orders, quotes, ledger, repos.invoices, clk, order.Config{
		TaxRatePercent: cfg.TaxRatePercent,
		LatePolicy: pricing.LatePolicy{
			Mode:    pricing.ParseLateFeeMode(cfg.LateFeeMode),
			Amount:  cfg.LateFeeAmount,
			Percent: cfg.LateFeePercent,
			Unit:    cfg.LateFeeUnit,
		},
	})
	payments := payment.NewService(repos.payments, repos.invoices, orders, repos.tx,
		payment.NewSigner(cfg.PaymentWebhookSecret), clk,
		payment.WithRetryPolicy(retry),
		payment.WithMetrics(paymentStats),
	)
	queue := quotation.NewSyncQueue(quotes, cfg.SyncDebounce)

	h := api.NewHandler(api.Deps{
		Quotations:   quotes,
		SyncQueue:    queue,
		Orders:       orders,
		Invoices:     repos.invoices,
		Payments:     payments,
		Products:     products,
		Ledger:       ledger,
		LedgerStats:  ledgerStats,
		PaymentStats: paymentStats,
		Health:       repos.health,
	})

	limiter := middleware.NewRateLimiter(cfg.InternalServiceKey)
	return &server{
		cfg:     cfg,
		handler: setupRouter(cfg, h.Routes(), limiter),
		quotes:  quotes,
		queue:   queue,
		limiter: limiter,
	}
}

// setupRouter wraps mux in the request chain, outermost first:
// request id, access log, CORS, auth, rate limit.
func setupRouter(cfg *config.Config, mux http.Handler, limiter *middleware.RateLimiter) http.Handler {
	var h http.Handler = mux
	h = limiter.Middleware(h)
	h = middleware.Auth([]byte(cfg.SecretKey))(h)
	h = middleware.CORS(cfg.AllowedOrigin)(h)
	h = logger.LoggingMiddleware(h)
	h = logger.RequestIDMiddleware(h)
	return h
}

// serve runs the HTTP listener next to the expiry sweeper and the limiter janitor,
// and shuts all of them down once ctx is cancelled or one of them fails.
func (s *server) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.AppPort,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.L().Info("http server listening",
			zap.String("addr", srv.Addr),
			zap.String("storage", s.cfg.Storage),
		)
		if err := startServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		s.queue.Close()
		logger.L().Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return runSweeper(gctx, s.quotes, s.cfg.ExpirySweepInterval)
	})

	g.Go(func() error {
		return s.limiter.Run(gctx, limiterSweep)
	})

	return g.Wait()
}

// runSweeper expires stale quotations every interval. A zero interval disables it;
// expiry then happens lazily on access.
func runSweeper(ctx context.Context, quotes quotation.Service, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logger.L().With(zap.String("worker", "quotation_expiry"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := quotes.ExpireStale(ctx, sweepBatch)
			if err != nil {
				log.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("expired stale quotations", zap.Int("count", n))
			}
		}
	}
}
