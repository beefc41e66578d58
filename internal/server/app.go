// Package server wires the recordguard components together: storage,
// key material, the audit ledger, the access guard, the gRPC pipeline,
// the integrity scheduler and the metrics endpoint.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/recordguard/internal/cryptox"
	"github.com/dmitrijs2005/recordguard/internal/logging"
	"github.com/dmitrijs2005/recordguard/internal/server/alert"
	"github.com/dmitrijs2005/recordguard/internal/server/config"
	"github.com/dmitrijs2005/recordguard/internal/server/jobs"
	"github.com/dmitrijs2005/recordguard/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/recordguard/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gs "github.com/dmitrijs2005/recordguard/internal/server/grpc"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	registry  *prometheus.Registry
	ledger    *services.AuditLedger
	guard     *services.AccessGuard
	accounts  *services.AccountService
	grpc      *gs.GRPCServer
	scheduler *jobs.DailyScheduler
}

// OpenDatabase connects through the pgx stdlib driver and applies pending
// migrations.
func OpenDatabase(ctx context.Context, c *config.Config, m repomanager.RepositoryManager) (*sql.DB, error) {
	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := m.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db migration error: %w", err)
	}
	return db, nil
}

// LoadKeyMaterial decodes the configured digest key, cipher key and IV.
func LoadKeyMaterial(c *config.Config) (*cryptox.KeyMaterial, error) {
	return cryptox.NewKeyMaterial(
		cryptox.ParseKey(c.DigestKey, cryptox.DigestSize),
		cryptox.ParseKey(c.CipherKey, cryptox.BlockSize),
		cryptox.ParseKey(c.CipherIV, cryptox.BlockSize),
	)
}

// NewAlerter always logs and, when enabled, also uploads reports to S3.
func NewAlerter(ctx context.Context, c *config.Config, logger logging.Logger) (alert.Alerter, error) {
	sinks := alert.Multi{alert.NewLogAlerter(logger)}
	if c.ReportSinkEnabled {
		s3sink, err := alert.NewS3ReportSink(ctx, c)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s3sink)
	}
	return sinks, nil
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(c.LogLevel))

	keys, err := LoadKeyMaterial(c)
	if err != nil {
		return nil, fmt.Errorf("key material error: %w", err)
	}
	cipher, err := cryptox.NewFieldCipher(keys)
	if err != nil {
		return nil, fmt.Errorf("field cipher error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	db, err := OpenDatabase(ctx, c, rm)
	if err != nil {
		return nil, err
	}

	alerter, err := NewAlerter(ctx, c, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("alert sink error: %w", err)
	}

	ledger := services.NewAuditLedger(db, rm, keys, logger, services.WithAlerter(alerter))
	guard := services.NewAccessGuard(db, rm, ledger, c, logger)
	accounts := services.NewAccountService(db, rm, guard, ledger, cipher, c, logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metrics := jobs.NewMetrics()
	if err := metrics.Register(registry); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metrics error: %w", err)
	}

	job := jobs.NewIntegrityJob(ledger, c.IntegrityWindow, metrics, logger)
	scheduler, err := jobs.NewDailyScheduler(jobs.JobTypeIntegrityCheck, c.IntegrityCheckAt, job.Run, metrics, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	grpcServer := gs.NewGRPCServer(c, logger, guard)
	registry.MustRegister(grpcServer.Collectors()...)

	return &App{
		config:    c,
		logger:    logger,
		db:        db,
		registry:  registry,
		ledger:    ledger,
		guard:     guard,
		accounts:  accounts,
		grpc:      grpcServer,
		scheduler: scheduler,
	}, nil
}

// Ledger, Guard and Accounts expose the services to gRPC service
// implementations registered from outside this module.
func (app *App) Ledger() *services.AuditLedger      { return app.ledger }
func (app *App) Guard() *services.AccessGuard       { return app.guard }
func (app *App) Accounts() *services.AccountService { return app.accounts }

// Register adds service registrars. It must be called before Run.
func (app *App) Register(r ...gs.ServiceRegistrar) {
	app.grpc.AddRegistrars(r...)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpc.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context, cancelFunc context.CancelFunc) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              app.config.EndpointAddrMetrics,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startMetricsServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.scheduler.Run(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(context.Background(), "db close error", "error", err)
	}
	app.logger.Info(context.Background(), "App stopped")
}
