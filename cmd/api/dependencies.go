package api

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/handler"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/normalizer"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/parser"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/repository"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/service"

	"github.com/FACorreiaa/benefactor-dues/pkg/config"
	"github.com/FACorreiaa/benefactor-dues/pkg/cron"
	"github.com/FACorreiaa/benefactor-dues/pkg/db"
	"github.com/FACorreiaa/benefactor-dues/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config   *config.Config
	DB       *db.DB
	Logger   *slog.Logger
	Registry *prometheus.Registry

	// Repositories
	BatchRepo  repository.BatchRepository
	Resolver   *repository.PostgresAccountResolver
	Reconciler *repository.ProcedureReconciler

	// Services
	Parser        *parser.WorkbookParser
	ImportService *service.ImportService
	Inbox         storage.Inbox
	Scheduler     *cron.Scheduler

	// Handlers
	DebitsHandler *handler.DebitsHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := deps.initServices(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")

	return deps, nil
}

// initDatabase initializes the database connection and runs migrations
func (d *Dependencies) initDatabase() error {
	database, err := db.New(db.Config{
		DSN:             d.Config.Database.DSN(),
		MaxConns:        int32(d.Config.Database.MaxConns),
		MinConns:        int32(d.Config.Database.MinConns),
		MaxConnLifetime: 5 * time.Minute,
		MaxConnIdleTime: 10 * time.Minute,
	}, d.Logger)
	if err != nil {
		return err
	}

	d.DB = database

	if err := d.DB.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	d.Logger.Info("database connected and migrations completed successfully")
	return nil
}

// initRepositories initializes all repository layer dependencies
func (d *Dependencies) initRepositories() error {
	d.BatchRepo = repository.NewPostgresBatchRepository(d.DB.Pool)
	d.Resolver = repository.NewPostgresAccountResolver(d.Config.Import.EligibleKind, d.Config.Import.EligibleStatus).
		WithActiveColumn(d.Config.Import.EligibleActiveColumn)

	reconciler, err := repository.NewProcedureReconciler(d.Config.Import.ReconcileFunction)
	if err != nil {
		return err
	}
	d.Reconciler = reconciler

	d.Logger.Info("repositories initialized",
		slog.String("reconcile_function", d.Config.Import.ReconcileFunction))
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	synonyms, err := normalizer.LoadSynonyms(d.Config.Import.SynonymsFile)
	if err != nil {
		return err
	}

	aliases := parser.DefaultCurrencyAliases()
	for alias, code := range d.Config.Import.CurrencyAliases {
		aliases[alias] = code
	}

	d.Parser = parser.NewWorkbookParser(normalizer.NewHeaderNormalizer(synonyms), parser.Config{
		Currency:        d.Config.Import.DefaultCurrency,
		PaymentMethod:   d.Config.Import.DefaultPaymentMethod,
		AccountType:     d.Config.Import.DefaultAccountType,
		CurrencyAliases: aliases,
	})

	d.ImportService = service.NewImportService(d.BatchRepo, d.Parser, d.Resolver, d.Reconciler, d.Logger)

	if d.Config.Observability.MetricsEnabled {
		d.Registry = prometheus.NewRegistry()
		d.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		d.ImportService.WithMetrics(service.NewMetrics(d.Registry))
	}

	if d.Config.Inbox.Enabled {
		inbox, err := storage.NewLocalInbox(d.Config.Inbox.Dir)
		if err != nil {
			return fmt.Errorf("failed to init inbox: %w", err)
		}
		d.Inbox = inbox
		d.Scheduler = cron.NewScheduler(inbox, d.ImportService, d.Config.Inbox.ActorID, d.Config.Inbox.Schedule, d.Logger)
	}

	d.Logger.Info("services initialized",
		slog.Int("synonyms", len(synonyms)),
		slog.Bool("metrics", d.Registry != nil),
		slog.Bool("inbox", d.Scheduler != nil),
	)
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() {
	d.DebitsHandler = handler.NewDebitsHandler(d.ImportService, d.Config.Import.MaxUploadBytes, d.Logger)
	d.Logger.Info("handlers initialized")
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	d.Logger.Info("cleanup completed")
}
