// Package daemon wires the services together and runs them as a
// single-instance background process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"oculith/internal/api"
	"oculith/internal/chunk"
	"oculith/internal/config"
	"oculith/internal/convert"
	"oculith/internal/events"
	"oculith/internal/files"
	"oculith/internal/index"
	"oculith/internal/logging"
	"oculith/internal/pipeline"
	"oculith/internal/pool"
	"oculith/internal/records"
	"oculith/internal/stage"
	"oculith/internal/tasks"
)

// Daemon owns the processing stack: record store, task registry,
// worker pool, and the HTTP API.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store     *records.Store
	files     *files.Service
	registry  *tasks.Registry
	publisher *events.Publisher
	pipeline  *pipeline.Pipeline
	workers   *pool.Pool
	server    *api.Server

	lockPath string
	lock     *flock.Flock
	running  atomic.Bool
}

// New builds a daemon with every dependency initialized but nothing
// started.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := records.Open(cfg)
	if err != nil {
		return nil, err
	}
	vectors, err := index.NewVectorStore(store.DB())
	if err != nil {
		store.Close()
		return nil, err
	}
	embedder, err := index.NewEmbedder(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	fileService := files.NewService(cfg, store, logger)
	registry := tasks.NewRegistry(cfg.Queue.MaxDepth, logger)
	publisher := events.NewPublisher(cfg.Queue.SubscriberBuffer, logger)

	handlers := map[records.Step]stage.Handler{
		records.StepConvert: convert.NewConverter(cfg, fileService, logger),
		records.StepChunk:   chunk.NewChunker(cfg, store, fileService, logger),
		records.StepIndex:   index.NewIndexer(fileService, vectors, embedder, logger),
	}
	pipe := pipeline.New(store, registry, publisher, handlers, logger)

	workers, err := pool.New(cfg.Queue.Workers, registry, pipe, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	server := api.NewServer(cfg, store, fileService, pipe, registry, publisher, vectors, embedder, logger)

	lockPath := filepath.Join(cfg.Paths.DataDir, "oculith.lock")
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     store,
		files:     fileService,
		registry:  registry,
		publisher: publisher,
		pipeline:  pipe,
		workers:   workers,
		server:    server,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}, nil
}

// Run starts the workers and the HTTP API and blocks until the context
// ends or a component fails. Only one daemon may run per data
// directory.
func (d *Daemon) Run(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	held, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !held {
		return errors.New("another daemon instance holds " + d.lockPath)
	}
	defer d.lock.Unlock()

	d.running.Store(true)
	defer d.running.Store(false)
	d.logger.Info("daemon started",
		logging.String("bind", d.cfg.Paths.APIBind),
		logging.Int("workers", d.cfg.Queue.Workers))

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return d.workers.Start(groupCtx)
	})
	group.Go(func() error {
		return d.server.ListenAndServe()
	})
	group.Go(func() error {
		<-groupCtx.Done()
		d.shutdown()
		return nil
	})

	err = group.Wait()
	d.logger.Info("daemon stopped")
	return err
}

// shutdown stops intake, drains workers, and closes the remaining
// resources in dependency order.
func (d *Daemon) shutdown() {
	d.registry.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.logger.Error("api shutdown", logging.Error(err))
	}

	d.workers.Close()
	d.publisher.Close()
	if err := d.store.Close(); err != nil {
		d.logger.Error("closing record store", logging.Error(err))
	}
}
