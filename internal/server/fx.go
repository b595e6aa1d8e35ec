// Package server builds the stager's dependencies from configuration and runs
// one staging run end to end.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsearch-stager/internal/api"
	"github.com/JakeFAU/docsearch-stager/internal/archive"
	"github.com/JakeFAU/docsearch-stager/internal/batch"
	"github.com/JakeFAU/docsearch-stager/internal/clock/system"
	"github.com/JakeFAU/docsearch-stager/internal/config"
	"github.com/JakeFAU/docsearch-stager/internal/id/uuid"
	"github.com/JakeFAU/docsearch-stager/internal/index"
	algoliaindex "github.com/JakeFAU/docsearch-stager/internal/index/algolia"
	bleveindex "github.com/JakeFAU/docsearch-stager/internal/index/bleve"
	memoryindex "github.com/JakeFAU/docsearch-stager/internal/index/memory"
	"github.com/JakeFAU/docsearch-stager/internal/indexdef"
	"github.com/JakeFAU/docsearch-stager/internal/logging"
	"github.com/JakeFAU/docsearch-stager/internal/metrics"
	memorypublisher "github.com/JakeFAU/docsearch-stager/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/docsearch-stager/internal/publisher/pubsub"
	"github.com/JakeFAU/docsearch-stager/internal/rules"
	"github.com/JakeFAU/docsearch-stager/internal/source"
	"github.com/JakeFAU/docsearch-stager/internal/stager"
	"github.com/JakeFAU/docsearch-stager/internal/staging"
	gcsstorage "github.com/JakeFAU/docsearch-stager/internal/storage/gcs"
	localstorage "github.com/JakeFAU/docsearch-stager/internal/storage/local"
	memorystorage "github.com/JakeFAU/docsearch-stager/internal/storage/memory"
	pgstore "github.com/JakeFAU/docsearch-stager/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/docsearch-stager/internal/storage/sqlite"
)

// localTopic names promotion events kept by the in-memory publisher.
const localTopic = "stager-promotions"

// Options carries process-level collaborators that do not come from config.
type Options struct {
	// Logger overrides the logger built from cfg.Logging.
	Logger *zap.Logger
	// Echo receives records when show_records is set. Defaults to stdout.
	Echo io.Writer
	// Stdin backs the "-" page location. Defaults to os.Stdin.
	Stdin io.Reader
}

// RunInput is what one run stages: the index definition and page locations.
type RunInput struct {
	Definition *indexdef.Definition
	Pages      []string
}

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	rules  rules.Rules
	echo   io.Writer
	stdin  io.Reader

	service   index.Service
	ledger    stager.RunLedger
	publisher stager.Publisher
	topic     string
	clock     stager.Clock
	ids       stager.IDGenerator

	pubsubClient *pubsub.Client
	gcsPublisher *gcppublisher.Publisher
	storage      *storage.Client
	archive      *archive.Sink
	closers      []func() error

	current atomic.Pointer[staging.Coordinator]
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	app := &App{
		cfg:    cfg,
		logger: logger,
		echo:   opts.Echo,
		stdin:  opts.Stdin,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	if app.echo == nil {
		app.echo = os.Stdout
	}
	app.logger.Info("building application dependencies",
		zap.String("index", cfg.Index.Name),
		zap.String("index_backend", cfg.Index.Backend),
		zap.String("ledger_backend", cfg.DB.Backend),
		zap.Bool("archive", cfg.Archive.Enabled),
	)

	app.rules = rules.Resolve(cfg.RulesRaw(), logger.Named("rules"))

	if err := setupIndex(app); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	if err := setupLedger(ctx, app); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	if err := setupPublisher(ctx, app); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func setupIndex(app *App) error {
	switch app.cfg.Index.Backend {
	case config.BackendAlgolia:
		svc, err := algoliaindex.New(app.cfg.Algolia, app.logger)
		if err != nil {
			return fmt.Errorf("algolia init failed: %w", err)
		}
		app.service = svc
		app.logger.Info("using algolia index backend", zap.String("app_id", app.cfg.Algolia.AppID))
	case config.BackendBleve:
		svc, err := bleveindex.New(bleveindex.Config{Root: app.cfg.Index.Root}, app.logger)
		if err != nil {
			return fmt.Errorf("bleve init failed: %w", err)
		}
		app.service = svc
		app.closers = append(app.closers, svc.Close)
		app.logger.Info("using bleve index backend", zap.String("root", app.cfg.Index.Root))
	default:
		app.service = memoryindex.New()
		app.logger.Info("using in-memory index backend")
	}
	return nil
}

func setupLedger(ctx context.Context, app *App) error {
	switch app.cfg.DB.Backend {
	case config.BackendPostgres:
		store, err := pgstore.NewRunStore(ctx, pgstore.Config{
			DSN:             app.cfg.DB.DSN,
			Table:           app.cfg.DB.Table,
			MaxConns:        app.cfg.DB.MaxConns,
			MinConns:        app.cfg.DB.MinConns,
			MaxConnLifetime: app.cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("run ledger init failed: %w", err)
		}
		app.closers = append(app.closers, func() error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("run ledger schema failed: %w", err)
		}
		app.ledger = store
		app.logger.Info("postgres run ledger initialized", zap.String("table", app.cfg.DB.Table))
	case config.BackendSQLite:
		store, err := sqlitestore.Open(sqlitestore.Config{Path: app.cfg.DB.Path})
		if err != nil {
			return fmt.Errorf("run ledger init failed: %w", err)
		}
		app.closers = append(app.closers, store.Close)
		app.ledger = store
		app.logger.Info("sqlite run ledger initialized", zap.String("path", app.cfg.DB.Path))
	case config.BackendMemory:
		app.ledger = memorystorage.NewRunStore()
		app.logger.Info("using in-memory run ledger")
	default:
		app.logger.Warn("no run ledger configured, run history will not be recorded")
	}
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		app.publisher = memorypublisher.New()
		app.topic = localTopic
		return nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.gcsPublisher = gcppublisher.New(app.pubsubClient)
	app.publisher = app.gcsPublisher
	app.topic = app.cfg.PubSub.TopicName
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return nil
}

// storageClient returns the shared GCS client, creating it on first use.
func (a *App) storageClient(ctx context.Context) (*storage.Client, error) {
	if a.storage != nil {
		return a.storage, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	a.storage = client
	return client, nil
}

func (a *App) setupArchive(ctx context.Context, runID string) ([]batch.Sink, error) {
	if !a.cfg.Archive.Enabled {
		return nil, nil
	}
	var store stager.BlobStore
	switch a.cfg.Archive.Backend {
	case config.BackendGCS:
		client, err := a.storageClient(ctx)
		if err != nil {
			return nil, err
		}
		gcs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		if err := gcs.VerifyBucket(ctx); err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		store = gcs
		a.logger.Info("archiving chunks to GCS", zap.String("bucket", a.cfg.Archive.Bucket))
	case config.BackendLocal:
		local, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		store = local
		a.logger.Info("archiving chunks locally", zap.String("path", a.cfg.Archive.BaseDir))
	default:
		store = memorystorage.NewBlobStore()
		a.logger.Info("archiving chunks in memory")
	}

	sink, err := archive.New(store, a.cfg.Archive.Prefix, runID)
	if err != nil {
		return nil, fmt.Errorf("archive init failed: %w", err)
	}
	a.archive = sink
	return []batch.Sink{sink}, nil
}

// Run stages every page in order, uploads the synonyms and promotes the
// staging index. Any failure, including SIGINT/SIGTERM, aborts the run before
// the live index is touched. The returned run reflects its final state.
func (a *App) Run(ctx context.Context, in RunInput) (stager.Run, error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	def := in.Definition
	if def == nil {
		def = &indexdef.Definition{}
	}

	runID, err := a.ids.NewID()
	if err != nil {
		return stager.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := logging.ForRun(a.logger, runID, a.cfg.Index.Name)

	sinks, err := a.setupArchive(ctx, runID)
	if err != nil {
		return stager.Run{}, err
	}

	srv := a.startServer(stop)
	defer a.stopServer(srv)

	coord, err := staging.New(ctx, staging.Deps{
		Service:   a.service,
		Rules:     a.rules,
		Ledger:    a.ledger,
		Publisher: a.publisher,
		Sinks:     sinks,
		Echo:      a.echo,
		Clock:     a.clock,
		IDs:       a.ids,
		Logger:    a.logger,
	}, staging.Options{
		LiveIndex:    a.cfg.Index.Name,
		StagingIndex: a.cfg.Index.TmpName,
		Settings:     def.Settings,
		QueryRules:   def.QueryRules,
		ChunkSize:    a.cfg.Index.ChunkSize,
		RunID:        runID,
		Topic:        a.topic,
	})
	if err != nil {
		return stager.Run{}, err
	}
	a.current.Store(coord)

	if err := a.stage(ctx, coord, def, in.Pages); err != nil {
		coord.Abort(context.WithoutCancel(ctx), err)
		run := coord.Snapshot()
		logger.Error("run aborted", zap.Error(err), zap.Int("pages", run.Counters.Pages))
		return run, err
	}

	run := coord.Snapshot()
	logger.Info("run complete",
		zap.Int("pages", run.Counters.Pages),
		zap.Int("records", run.Counters.RecordsAccepted),
		zap.Int("oversized", run.Counters.RecordsOversized),
		zap.Int("synonyms", run.Counters.Synonyms),
	)
	return run, nil
}

func (a *App) stage(ctx context.Context, coord *staging.Coordinator, def *indexdef.Definition, pages []string) error {
	opener := source.Opener{Stdin: a.stdin}
	for _, location := range pages {
		if strings.HasPrefix(location, "gs://") {
			client, err := a.storageClient(ctx)
			if err != nil {
				return err
			}
			opener.GCS = client
			break
		}
	}

	err := source.Each(ctx, opener, pages, func(page source.Page) error {
		return coord.AddRecords(ctx, page.URL, page.Records, page.FromSitemap)
	})
	if err != nil {
		return fmt.Errorf("stage pages: %w", err)
	}
	if err := coord.AddSynonyms(ctx, def.Synonyms); err != nil {
		return fmt.Errorf("stage synonyms: %w", err)
	}
	return coord.Commit(ctx)
}

func (a *App) currentRun() (stager.Run, bool) {
	coord := a.current.Load()
	if coord == nil {
		return stager.Run{}, false
	}
	return coord.Snapshot(), true
}

func (a *App) ready(context.Context) error {
	if a.current.Load() == nil {
		return errors.New("staging index not initialized")
	}
	return nil
}

// Handler returns the status API wired to this app.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.currentRun, api.Options{Ledger: a.ledger, Ready: a.ready}, a.logger).Handler()
}

func (a *App) startServer(stop context.CancelFunc) *http.Server {
	if a.cfg.Server.Port <= 0 {
		return nil
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()
	return srv
}

func (a *App) stopServer(srv *http.Server) {
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(_ context.Context) error {
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("archive close failed", zap.Error(err))
		}
	}
	if a.gcsPublisher != nil {
		a.gcsPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return nil
}
