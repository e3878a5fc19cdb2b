// Package app assembles the service from configuration: store, blob storage,
// capability providers, pipeline, dispatch and the HTTP surface.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/muzaffar640/vidread-backend/internal/config"
	"github.com/muzaffar640/vidread-backend/internal/database"
	"github.com/muzaffar640/vidread-backend/internal/handlers"
	"github.com/muzaffar640/vidread-backend/internal/middleware"
	"github.com/muzaffar640/vidread-backend/internal/pipeline"
	"github.com/muzaffar640/vidread-backend/internal/repository"
	"github.com/muzaffar640/vidread-backend/internal/router"
	"github.com/muzaffar640/vidread-backend/internal/services"
	"github.com/muzaffar640/vidread-backend/internal/storage"
	"github.com/muzaffar640/vidread-backend/internal/websocket"
	"github.com/muzaffar640/vidread-backend/internal/worker"
	"github.com/muzaffar640/vidread-backend/migrations"
)

var (
	_ pipeline.Store = (*repository.PostgresStore)(nil)
	_ pipeline.Store = (*repository.SQLiteStore)(nil)
	_ pipeline.Store = (*repository.MemoryStore)(nil)

	_ pipeline.Dispatcher = (*worker.Pool)(nil)
	_ pipeline.Dispatcher = (*worker.LocalDispatcher)(nil)

	_ pipeline.Publisher = (*worker.RedisPublisher)(nil)
	_ pipeline.Publisher = (*websocket.Hub)(nil)

	_ pipeline.Extractor   = (*services.YouTubeService)(nil)
	_ pipeline.Transcriber = (*services.WhisperTranscriber)(nil)
	_ pipeline.Transcriber = (*services.CaptionTranscriber)(nil)
	_ pipeline.Transcriber = (*services.GeminiService)(nil)
	_ pipeline.Generator   = (*services.OpenAIGenerator)(nil)
	_ pipeline.Generator   = (*services.GeminiService)(nil)
)

// App holds the wired components. Build it with New, run background work
// with Start and release everything with Close.
type App struct {
	Config      *config.Config
	Log         logrus.FieldLogger
	Store       pipeline.Store
	Coordinator *pipeline.Coordinator
	Books       *services.BookService
	Auth        *middleware.JWTAuth
	Hub         *websocket.Hub
	Handler     http.Handler

	redis  *database.RedisClients
	pool   *worker.Pool
	local  *worker.LocalDispatcher
	poller *worker.Poller

	closers []func()
}

// New wires the whole service. Redis is optional: without it tasks run in
// process and events go straight to the websocket hub.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a = &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.Store, err = a.openStore(ctx); err != nil {
		return nil, err
	}

	blobs, err := a.openBlobs(ctx)
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "vidread-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	a.closers = append(a.closers, func() { os.RemoveAll(tmpDir) })

	youtube := services.NewYouTubeService(blobs, log.WithField("component", "youtube"))
	transcriber, generator, err := a.providers(ctx, blobs, tmpDir)
	if err != nil {
		return nil, err
	}

	counter, err := pipeline.NewTiktokenCounter()
	if err != nil {
		return nil, err
	}
	planner, err := pipeline.NewPlanner(cfg.TranscriptionWindowSeconds, cfg.TranscriptionOverlapSeconds, cfg.GenerationTokenBudget, counter)
	if err != nil {
		return nil, err
	}

	executor := pipeline.NewExecutor(youtube, transcriber, generator, pipeline.ExecutorConfig{
		MaxAttempts:    cfg.TaskMaxAttempts,
		AttemptTimeout: cfg.TaskAttemptTimeout,
		BaseBackoff:    cfg.TaskBaseBackoff,
	}, log.WithField("component", "executor"))

	a.Coordinator = pipeline.NewCoordinator(a.Store, youtube, planner, pipeline.NewAssembler(), pipeline.CoordinatorConfig{
		ChunkLease: cfg.ChunkLease,
	}, log.WithField("component", "coordinator"))

	a.Auth = middleware.NewJWTAuth(cfg.JWTSecret)
	a.Hub = websocket.NewHub(a.Auth, a.Coordinator, log.WithField("component", "websocket"))

	if cfg.RedisURL != "" {
		if a.redis, err = database.NewRedisClients(ctx, cfg.RedisURL, cfg.WorkerCount); err != nil {
			return nil, err
		}
		a.pool = worker.NewPool(a.redis.Queue, executor, a.Coordinator, worker.PoolConfig{
			Workers: cfg.WorkerCount,
			LockTTL: cfg.ChunkLease,
		}, log.WithField("component", "worker"))
		a.Coordinator.SetDispatcher(a.pool)
		a.Coordinator.SetPublisher(worker.NewRedisPublisher(a.redis.PubSub))
	} else {
		a.local = worker.NewLocalDispatcher(executor, a.Coordinator, cfg.WorkerCount, log.WithField("component", "worker"))
		a.Coordinator.SetDispatcher(a.local)
		a.Coordinator.SetPublisher(a.Hub)
	}
	a.poller = worker.NewPoller(a.Store, a.Coordinator, cfg.PollInterval, log.WithField("component", "poller"))

	a.Books = services.NewBookService(a.Store, log.WithField("component", "books"))
	a.Handler = router.New(
		a.Auth,
		handlers.NewJobHandler(a.Coordinator, a.Books, log),
		handlers.NewBookHandler(a.Books, a.Coordinator, log),
		a.Hub,
		cfg.FrontendURL,
		log.WithField("component", "http"),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (pipeline.Store, error) {
	cfg := a.Config
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		if err := database.RunMigrations(ctx, pool, migrations.Postgres(), a.Log); err != nil {
			return nil, err
		}
		return repository.NewPostgresStore(pool), nil
	case "sqlite":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		db, err := database.OpenSQLite(ctx, cfg.SQLitePath, migrations.SQLite())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { db.Close() })
		return repository.NewSQLiteStore(db), nil
	default:
		a.Log.Warn("Using in-memory store; jobs and books are lost on restart")
		return repository.NewMemoryStore(), nil
	}
}

func (a *App) openBlobs(ctx context.Context) (storage.BlobStore, error) {
	cfg := a.Config
	if cfg.StorageType == "s3" {
		return storage.NewS3Store(ctx, storage.S3Config{
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			PathStyle: cfg.S3PathStyle,
		})
	}
	return storage.NewLocalStore(cfg.StoragePath)
}

// providers builds the transcription and generation capabilities. Gemini
// serves both roles from one client when selected for both.
func (a *App) providers(ctx context.Context, blobs storage.BlobStore, tmpDir string) (pipeline.Transcriber, pipeline.Generator, error) {
	cfg := a.Config
	openaiCfg := services.OpenAIConfig{
		APIKey:            cfg.OpenAIAPIKey,
		Model:             cfg.OpenAIModel,
		WhisperModel:      cfg.WhisperModel,
		RequestsPerMinute: cfg.ProviderRequestsPerMinute,
	}

	var clipper services.Clipper
	if cfg.TranscriptionProvider != "captions" {
		ff, err := services.NewFFmpegClipper()
		if err != nil {
			return nil, nil, err
		}
		clipper = ff
	}

	var gemini *services.GeminiService
	geminiService := func() (*services.GeminiService, error) {
		if gemini != nil {
			return gemini, nil
		}
		g, err := services.NewGeminiService(ctx, services.GeminiConfig{
			APIKey:            cfg.GeminiAPIKey,
			Model:             cfg.GeminiModel,
			RequestsPerMinute: cfg.ProviderRequestsPerMinute,
		}, blobs, clipper, tmpDir, a.Log.WithField("component", "gemini"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		gemini = g
		return g, nil
	}

	var transcriber pipeline.Transcriber
	switch cfg.TranscriptionProvider {
	case "whisper":
		w, err := services.NewWhisperTranscriber(openaiCfg, blobs, clipper, tmpDir)
		if err != nil {
			return nil, nil, err
		}
		transcriber = w
	case "gemini":
		g, err := geminiService()
		if err != nil {
			return nil, nil, err
		}
		transcriber = g
	default:
		transcriber = services.NewCaptionTranscriber(cfg.CaptionLanguages, cfg.ProviderRequestsPerMinute, a.Log.WithField("component", "captions"))
	}

	var generator pipeline.Generator
	switch cfg.GenerationProvider {
	case "gemini":
		g, err := geminiService()
		if err != nil {
			return nil, nil, err
		}
		generator = g
	default:
		o, err := services.NewOpenAIGenerator(openaiCfg, a.Log.WithField("component", "openai"))
		if err != nil {
			return nil, nil, err
		}
		generator = o
	}
	return transcriber, generator, nil
}

// Start launches the background workers: the Redis worker pool and event
// relay when Redis is configured, and always the active-job poller.
func (a *App) Start(ctx context.Context) {
	if a.pool != nil {
		a.pool.Start()
		go a.Hub.Run(ctx, a.redis.PubSub)
	}
	go a.poller.Run(ctx)
	a.Log.WithFields(logrus.Fields{
		"store":         a.Config.StoreDriver,
		"transcription": a.Config.TranscriptionProvider,
		"generation":    a.Config.GenerationProvider,
		"redis":         a.redis != nil,
	}).Info("Pipeline started")
}

// Close stops workers and releases resources in reverse order of creation.
func (a *App) Close() {
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.local != nil {
		a.local.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// PollOnce advances every active job once. With the in-process dispatcher it
// waits for the dispatched work, and the work it dispatches in turn, to finish.
func (a *App) PollOnce(ctx context.Context) (int, error) {
	n, err := a.poller.PollOnce(ctx)
	if a.local != nil {
		a.local.Wait()
	}
	return n, err
}
