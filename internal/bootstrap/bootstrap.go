package bootstrap

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/content-publisher/internal/config"
	"github.com/kirillkom/content-publisher/internal/core/ports"
	"github.com/kirillkom/content-publisher/internal/core/usecase"
	"github.com/kirillkom/content-publisher/internal/infrastructure/bulk"
	"github.com/kirillkom/content-publisher/internal/infrastructure/folder/httpfolder"
	"github.com/kirillkom/content-publisher/internal/infrastructure/folder/localdir"
	"github.com/kirillkom/content-publisher/internal/infrastructure/parser/llmparse"
	"github.com/kirillkom/content-publisher/internal/infrastructure/provider"
	"github.com/kirillkom/content-publisher/internal/infrastructure/provider/browserless"
	"github.com/kirillkom/content-publisher/internal/infrastructure/provider/cmsapi"
	"github.com/kirillkom/content-publisher/internal/infrastructure/queue/nats"
	"github.com/kirillkom/content-publisher/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/content-publisher/internal/infrastructure/resilience"
	"github.com/kirillkom/content-publisher/internal/infrastructure/storage/localfs"
)

type App struct {
	Config config.Config

	Queue    ports.MessageQueue
	Repo     ports.DocumentRepository
	Tasks    ports.PublishTaskRepository
	Events   ports.ChangeEventReader
	Storage  ports.ObjectStorage
	Executor *resilience.Executor

	IngestUC    *usecase.IngestUseCase
	ImportUC    *usecase.ImportUseCase
	PublishUC   *usecase.PublishUseCase
	ReconcileUC *usecase.ReconcileUseCase
	WorklistUC  *usecase.WorklistUseCase
	RelayUC     *usecase.EventRelayUseCase

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	repo := postgres.NewDocumentRepository(db)
	tasks := postgres.NewPublishTaskRepository(db)
	events := postgres.NewEventRepository(db)

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	queue, err := nats.NewWithOptions(cfg.NATSURL, nats.Subjects{
		Import:  cfg.NATSImportSubject,
		Publish: cfg.NATSPublishSubject,
		Cancel:  cfg.NATSCancelSubject,
		Events:  cfg.NATSEventsSubject,
	}, nats.Options{ResilienceExecutor: executor})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	folderClient, err := newFolderClient(cfg, executor)
	if err != nil {
		return nil, fmt.Errorf("init folder client: %w", err)
	}

	parserClient := llmparse.NewClient(cfg.ParserURL, cfg.ParserModel, executor)
	docParser := llmparse.NewParser(parserClient, cfg.ParserFallbackEnabled)

	registry, err := newProviderRegistry(cfg, storage)
	if err != nil {
		return nil, fmt.Errorf("init providers: %w", err)
	}

	importPolicy := usecase.RetryPolicy{
		MaxAttempts:    cfg.ImportMaxAttempts,
		InitialBackoff: time.Duration(cfg.ImportBackoffMs) * time.Millisecond,
	}
	publishPolicy := usecase.RetryPolicy{
		MaxAttempts:    cfg.PublishMaxAttempts,
		InitialBackoff: time.Duration(cfg.PublishBackoffMs) * time.Millisecond,
	}

	ingestUC := usecase.NewIngestUseCase(repo, storage, queue, bulk.Readers())
	importUC := usecase.NewImportUseCase(repo, storage, folderClient, docParser, importPolicy)
	publishLimiter := rate.NewLimiter(rate.Limit(cfg.PublishRateLimitRPS), 1)
	publishUC := usecase.NewPublishUseCase(repo, tasks, storage, registry, queue, publishLimiter, publishPolicy)
	// No watched folder configured means no reconciler; uploads and bulk
	// imports still work.
	var reconcileUC *usecase.ReconcileUseCase
	if folderClient != nil {
		reconcileUC = usecase.NewReconcileUseCase(repo, folderClient, queue)
	}
	worklistUC := usecase.NewWorklistUseCase(repo, tasks, events, publishUC, queue)
	relayUC := usecase.NewEventRelayUseCase(events, queue, cfg.EventRelayBatch)

	return &App{
		Config: cfg,

		Queue:    queue,
		Repo:     repo,
		Tasks:    tasks,
		Events:   events,
		Storage:  storage,
		Executor: executor,

		IngestUC:    ingestUC,
		ImportUC:    importUC,
		PublishUC:   publishUC,
		ReconcileUC: reconcileUC,
		WorklistUC:  worklistUC,
		RelayUC:     relayUC,

		closeFn: func() {
			queue.Close()
			_ = db.Close()
		},
	}, nil
}

// newFolderClient picks the watched folder backend: a mounted directory when
// WATCH_FOLDER_PATH is set, the remote folder API when WATCH_FOLDER_URL is
// set, nothing when neither is.
func newFolderClient(cfg config.Config, executor *resilience.Executor) (ports.FolderClient, error) {
	switch {
	case cfg.WatchFolderPath != "":
		return localdir.New(cfg.WatchFolderPath)
	case cfg.WatchFolderURL != "":
		limiter := rate.NewLimiter(rate.Limit(cfg.WatchFolderRPS), 1)
		return httpfolder.New(cfg.WatchFolderURL, cfg.WatchFolderToken, executor, limiter), nil
	default:
		return nil, nil
	}
}

func newProviderRegistry(cfg config.Config, storage ports.ObjectStorage) (*provider.Registry, error) {
	providersCfg, err := config.LoadProviders(cfg.ProvidersConfigPath)
	if err != nil {
		return nil, err
	}

	registry := provider.NewRegistry()
	for _, entry := range providersCfg.Providers {
		target := ports.PublishTarget{
			Endpoint: entry.Endpoint,
			Username: entry.Username,
			Secret:   entry.Secret(),
		}

		var impl ports.Provider
		switch entry.Name {
		case "cms-api":
			impl = cmsapi.New()
		case "browserless":
			impl = browserless.New(cfg.BrowserServiceURL, storage)
		default:
			return nil, fmt.Errorf("unknown provider %q in providers config", entry.Name)
		}
		if err := registry.Register(usecase.ProviderBinding{Provider: impl, Target: target}); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
