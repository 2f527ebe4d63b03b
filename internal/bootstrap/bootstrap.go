package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/construmedicis/buildtracking/internal/config"
	"github.com/construmedicis/buildtracking/internal/core/ports"
	"github.com/construmedicis/buildtracking/internal/core/usecase"
	"github.com/construmedicis/buildtracking/internal/infrastructure/archive"
	"github.com/construmedicis/buildtracking/internal/infrastructure/mail/gmail"
	"github.com/construmedicis/buildtracking/internal/infrastructure/parser/ubl"
	"github.com/construmedicis/buildtracking/internal/infrastructure/queue/nats"
	"github.com/construmedicis/buildtracking/internal/infrastructure/repository/postgres"
	"github.com/construmedicis/buildtracking/internal/infrastructure/resilience"
	"github.com/construmedicis/buildtracking/internal/infrastructure/storage/localfs"
	"github.com/construmedicis/buildtracking/internal/observability/logging"
	"github.com/construmedicis/buildtracking/internal/observability/metrics"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Queue    *nats.Queue
	Invoices ports.InvoiceRepository

	SyncUC    ports.IngestionRunner
	Evaluator ports.RuleEvaluator
	Assigner  ports.InvoiceAssigner

	HTTPMetrics *metrics.HTTPServerMetrics
	SyncMetrics *metrics.SyncMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger(cfg.ServiceName, cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	invoices := postgres.NewInvoiceRepository(db)
	catalog := postgres.NewCatalogRepository(db)
	rules := postgres.NewRuleRepository(db)
	projects := postgres.NewProjectRepository(db)
	participations := postgres.NewParticipationRepository(db)
	sources := postgres.NewSourceRepository(db)
	locker := postgres.NewRunLocker(db)

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
	})
	if err != nil {
		return nil, fmt.Errorf("init run queue: %w", err)
	}

	mail, err := newMailTransport(ctx, cfg, executor, logger)
	if err != nil {
		return nil, err
	}

	blobs, err := localfs.New(cfg.InvoiceArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("init invoice archive: %w", err)
	}

	stock := usecase.NewStockService(catalog)
	matcher := usecase.NewCatalogMatcher(catalog)
	engine := usecase.NewRuleEngine(rules, projects, invoices, participations)
	assigner := usecase.NewAssignmentService(invoices, projects, catalog, stock)
	syncUC := usecase.NewSyncUseCase(
		usecase.SyncConfig{
			AutoAssignThreshold: cfg.AutoAssignThreshold,
			TempDir:             cfg.SyncTempDir,
			FetchTimeout:        time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
		},
		sources, locker, mail, ubl.New(), archive.NewExpander(), blobs,
		invoices, catalog, matcher, engine, stock,
	)

	return &App{
		Config: cfg,
		Logger: logger,

		Queue:    queue,
		Invoices: invoices,

		SyncUC:    syncUC,
		Evaluator: engine,
		Assigner:  assigner,

		HTTPMetrics: metrics.NewHTTPServerMetrics(cfg.ServiceName),
		SyncMetrics: metrics.NewSyncMetrics(cfg.ServiceName),

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

func newMailTransport(ctx context.Context, cfg config.Config, executor *resilience.Executor, logger *slog.Logger) (ports.MailTransport, error) {
	if cfg.GmailCredentialsFile == "" {
		return nil, fmt.Errorf("GMAIL_CREDENTIALS_FILE is required")
	}
	creds, err := os.ReadFile(cfg.GmailCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read gmail credentials: %w", err)
	}
	return gmail.NewTransport(ctx, gmail.Config{
		CredentialsJSON: creds,
		ImpersonateUser: cfg.GmailImpersonateUser,
	}, executor, logger)
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
