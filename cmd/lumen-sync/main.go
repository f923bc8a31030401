// Package main is the entry point for the lumen-sync upload engine.
// It runs either as the long-lived foreground daemon or as the short-lived
// background task (-background); both share one local catalog and one lock
// backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prn-tf/lumen-sync/internal/config"
	"github.com/prn-tf/lumen-sync/internal/connectivity"
	"github.com/prn-tf/lumen-sync/internal/domain"
	"github.com/prn-tf/lumen-sync/internal/events"
	"github.com/prn-tf/lumen-sync/internal/handler"
	"github.com/prn-tf/lumen-sync/internal/lock"
	"github.com/prn-tf/lumen-sync/internal/media"
	"github.com/prn-tf/lumen-sync/internal/metrics"
	"github.com/prn-tf/lumen-sync/internal/remote"
	"github.com/prn-tf/lumen-sync/internal/repository"
	"github.com/prn-tf/lumen-sync/internal/repository/postgres"
	"github.com/prn-tf/lumen-sync/internal/repository/redis"
	"github.com/prn-tf/lumen-sync/internal/repository/sqlite"
	"github.com/prn-tf/lumen-sync/internal/uploader"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to configuration file")
		background = flag.Bool("background", false, "run as the background task process")
		assumeWiFi = flag.Bool("assume-wifi", false, "skip interface probing and treat the link as wifi")
	)
	flag.Parse()

	cfg := config.MustLoad(*configPath)

	logger := newLogger(cfg.Logging)
	log.Logger = logger

	process := domain.ProcessForeground
	if *background {
		process = domain.ProcessBackground
	}

	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("process", string(process)).
		Msg("Starting lumen-sync upload engine")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var prober connectivity.Prober = &connectivity.InterfaceProber{}
	if *assumeWiFi {
		prober = connectivity.NewStaticProber(connectivity.KindWiFi)
	}

	if err := run(ctx, cfg, process, prober, logger, flag.Args()); err != nil {
		logger.Fatal().Err(err).Msg("upload engine failed")
	}

	logger.Info().Msg("Shutting down")
}

// run wires the engine together and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, process domain.ProcessType, prober connectivity.Prober, logger zerolog.Logger, enqueueArgs []string) error {
	// --- local catalog ---
	dbCfg := sqlite.DefaultConfig(cfg.Database.Path)
	dbCfg.JournalMode = cfg.Database.JournalMode
	dbCfg.BusyTimeout = cfg.Database.BusyTimeout
	dbCfg.CacheSize = cfg.Database.CacheSize
	dbCfg.SynchronousMode = cfg.Database.SynchronousMode

	db, err := sqlite.NewDB(ctx, dbCfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	files := sqlite.NewFileRepository(db)
	settings := sqlite.NewSettingsRepository(db)

	locksRepo, closeLocks, err := newLockRepository(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeLocks()

	locks := lock.NewStore(locksRepo, settings, lock.Config{
		Process:      process,
		Expiry:       cfg.Uploader.LockExpiry,
		DeathTimeout: cfg.Uploader.BackgroundDeathTimeout,
	}, logger)

	if err := locks.SweepAtStartup(ctx); err != nil {
		return err
	}

	if process == domain.ProcessBackground {
		go heartbeatLoop(ctx, locks, logger)
	}

	// --- remote transport ---
	client := remote.NewClient(cfg.API, logger)

	var source remote.URLSource = client
	if cfg.DirectS3.Enabled {
		source, err = remote.NewS3URLSource(ctx, cfg.DirectS3)
		if err != nil {
			return err
		}
	}

	// The pool sizes refills from the live queue depth; the queue is built
	// below, so the closure binds late.
	var queue *uploader.Queue
	pool := remote.NewURLPool(source, func() int {
		if queue == nil {
			return 0
		}
		return queue.Len()
	}, logger)

	putter := remote.NewPutter(pool, cfg.API.MaxAttempts, logger)
	catalog := remote.NewCatalog(client, cfg.API.MaxAttempts, cfg.API.RetryBackoff)
	collections := remote.NewCollections(client, cfg.API.MaxAttempts, cfg.API.RetryBackoff)

	// --- engine ---
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	bus := events.NewBus()

	linker := uploader.NewLinker(files, collections, logger)
	resolver := uploader.NewResolver(files, linker, cfg.API.UserID, logger)
	extractor := media.NewFilesystemExtractor(cfg.Uploader.MediaRoot, cfg.Uploader.ThumbnailRoot, logger)

	worker := uploader.NewWorker(uploader.WorkerDeps{
		Files:     files,
		Locks:     locks,
		Resolver:  resolver,
		Linker:    linker,
		Extractor: extractor,
		Putter:    putter,
		Catalog:   catalog,
		Prober:    prober,
		Bus:       bus,
		Metrics:   m,
		StopRequested: func() bool {
			return queue != nil && queue.StopRequested()
		},
	}, uploader.WorkerConfig{
		TempDir:            cfg.Uploader.TempDir,
		AllowMobileUploads: cfg.Uploader.AllowMobileUploads,
		Deadline:           cfg.Uploader.UploadDeadline,
		Process:            process,
	}, logger)

	queue = uploader.NewQueue(ctx, worker.Upload, linker, uploader.QueueConfig{
		GlobalLimit: cfg.Uploader.GlobalLimit,
		VideoLimit:  cfg.Uploader.VideoLimit,
	}, m, logger)

	go reactToEvents(ctx, bus, pool, queue, logger)

	if process == domain.ProcessForeground {
		liaison := uploader.NewLiaison(queue, locks, files, cfg.Uploader.LiaisonInterval, logger)
		go liaison.Run(ctx)
	}

	if cfg.StatusServer.Enabled {
		go serveStatus(ctx, cfg.StatusServer, queue, registry, logger)
	}

	if err := enqueueLocalIDs(ctx, queue, files, enqueueArgs, logger); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// newLockRepository builds the configured lock backend. SQLite shares the
// local database handle; postgres and redis open their own connections and
// return a closer.
func newLockRepository(ctx context.Context, cfg *config.Config, db *sqlite.DB, logger zerolog.Logger) (repository.LockRepository, func(), error) {
	factory := repository.NewFactory(cfg.LockBackend, logger)

	switch factory.Driver() {
	case "sqlite":
		return sqlite.NewLockRepository(db), func() {}, nil

	case "postgres":
		pg, err := postgres.NewDB(ctx, cfg.LockBackend.PostgresDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return postgres.NewLockRepository(pg), func() { pg.Close() }, nil

	case "redis":
		repo, err := redis.NewLockRepository(ctx, redis.Config{
			Addr:     cfg.LockBackend.RedisAddr,
			Password: cfg.LockBackend.RedisPassword,
			DB:       cfg.LockBackend.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return repo, func() {}, nil

	default:
		return nil, nil, errors.New("unsupported lock backend driver: " + factory.Driver())
	}
}

// heartbeatLoop stamps the background heartbeat so the foreground can tell a
// live background process from a dead one.
func heartbeatLoop(ctx context.Context, locks *lock.Store, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := locks.StampHeartbeat(ctx); err != nil {
				logger.Warn().Err(err).Msg("failed to stamp heartbeat")
			}
		}
	}
}

// reactToEvents applies bus signals to the engine: a purchased subscription
// clears the pool's cached session failure, deleted local photos drop their
// pending queue entries.
func reactToEvents(ctx context.Context, bus *events.Bus, pool *remote.URLPool, queue *uploader.Queue, logger zerolog.Logger) {
	purchased, cancelPurchased := bus.Subscribe(events.TopicSubscriptionPurchased)
	defer cancelPurchased()

	deleted, cancelDeleted := bus.Subscribe(events.TopicLocalPhotosDeleted)
	defer cancelDeleted()

	for {
		select {
		case <-ctx.Done():
			return

		case <-purchased:
			logger.Info().Msg("subscription purchased, resetting upload URL pool")
			pool.Reset()

		case ev := <-deleted:
			gone, ok := ev.Payload.([]string)
			if !ok {
				continue
			}
			goneSet := make(map[string]bool, len(gone))
			for _, id := range gone {
				goneSet[id] = true
			}
			queue.RemoveWhere(func(localID string, _ *domain.File) bool {
				return goneSet[localID]
			}, domain.ErrInvalidFile)
		}
	}
}

// serveStatus runs the loopback status server until ctx is cancelled.
func serveStatus(ctx context.Context, cfg config.StatusServerConfig, queue *uploader.Queue, registry *prometheus.Registry, logger zerolog.Logger) {
	router := handler.NewRouter(handler.RouterConfig{
		Queue:    queue,
		Registry: registry,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", cfg.Addr()).Msg("status server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("status server failed")
	}
}

// enqueueLocalIDs submits positional "localID:collectionID" arguments. The
// collection part is optional and defaults to the file's stored collection.
func enqueueLocalIDs(ctx context.Context, queue *uploader.Queue, files repository.FileRepository, args []string, logger zerolog.Logger) error {
	for _, arg := range args {
		localID := arg
		var collectionID int64

		if i := strings.LastIndexByte(arg, ':'); i >= 0 {
			localID = arg[:i]
			parsed, err := strconv.ParseInt(arg[i+1:], 10, 64)
			if err != nil || parsed < 1 {
				return fmt.Errorf("invalid collection id in %q", arg)
			}
			collectionID = parsed
		}

		file, err := files.GetByLocalID(ctx, localID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				logger.Warn().Str("local_id", localID).Msg("skipping unknown local id")
				continue
			}
			return err
		}
		if collectionID == 0 {
			collectionID = file.CollectionID
		}

		queue.Enqueue(file, collectionID)
	}
	return nil
}

// newLogger builds the process logger from configuration.
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: cfg.TimeFormat})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
