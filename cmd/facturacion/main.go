package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"3tcapital/ms_facturacion_afip/internal/adapters/fiscal/postgres"
	fiscalhandler "3tcapital/ms_facturacion_afip/internal/adapters/http/fiscal"
	healthhandler "3tcapital/ms_facturacion_afip/internal/adapters/http/health"
	"3tcapital/ms_facturacion_afip/internal/adapters/invoice/afip"
	auditpg "3tcapital/ms_facturacion_afip/internal/adapters/audit/postgres"
	appfiscal "3tcapital/ms_facturacion_afip/internal/application/fiscal"
	apphealth "3tcapital/ms_facturacion_afip/internal/application/health"
	"3tcapital/ms_facturacion_afip/internal/core/audit"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/config"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/database"
	infrahttp "3tcapital/ms_facturacion_afip/internal/infrastructure/http"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/http/server"
	"3tcapital/ms_facturacion_afip/internal/infrastructure/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "service stopped: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.App.Name, cfg.Log.Level, cfg.App.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := database.NewPool(ctx, database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		Database:        cfg.Database.Database,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	log.Info("Database connection established", "database", cfg.Database.Database)

	if err := database.RunMigrations(ctx, pool, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	var auditRepo audit.Repository
	if cfg.Audit.Enabled {
		auditRepo = auditpg.NewRepositoryWithLogger(pool, log)
		log.Info("Audit trail enabled", "max_body_size", cfg.Audit.MaxBodySize)
	} else {
		log.Info("Audit trail disabled")
	}

	tracedClient := infrahttp.NewTracedClient(&infrahttp.TracedClientConfig{
		Timeout:         cfg.AFIP.APITimeout,
		AuditEnabled:    cfg.Audit.Enabled && auditRepo != nil,
		LogRequestBody:  cfg.Audit.LogRequestBody,
		LogResponseBody: cfg.Audit.LogResponseBody,
		MaxBodySize:     cfg.Audit.MaxBodySize,
	}, log, auditRepo, "afip")

	authorizer := afip.NewServiceWithURLs(tracedClient, log, afip.URLOverrides{
		WSAAProduction: cfg.AFIP.WSAAProductionURL,
		WSAATesting:    cfg.AFIP.WSAATestingURL,
		WSFEProduction: cfg.AFIP.WSFEProductionURL,
		WSFETesting:    cfg.AFIP.WSFETestingURL,
	})

	identities := postgres.NewIdentityRepository(pool, log)
	documents := postgres.NewDocumentRepository(pool, log)
	orders := postgres.NewOrderRepository(pool, log)
	errorLog := postgres.NewErrorLogRepository(pool, log)

	fiscalService := appfiscal.NewService(identities, documents, orders, errorLog, authorizer, log)
	healthService := apphealth.NewService(apphealth.Metadata{
		Service:     cfg.App.Name,
		Version:     cfg.App.Version,
		Environment: cfg.App.Environment,
	})

	srv, err := server.New(server.Options{
		Config: cfg,
		Logger: log,
		Fiscal: fiscalhandler.NewHandler(fiscalService, log),
		Health: healthhandler.NewHandler(healthService),
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer srv.Close()

	log.Info("Starting HTTP server", "port", cfg.HTTP.Port)
	return srv.Run(ctx)
}
