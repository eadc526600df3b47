// Package app wires the shared process bootstrap used by both binaries:
// configuration, logging, the Redis broker, the Postgres store and the
// task runtime with the worker handlers registered.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/blunderlab/blunderlab/internal/coach"
	"github.com/blunderlab/blunderlab/internal/config"
	"github.com/blunderlab/blunderlab/internal/engine"
	"github.com/blunderlab/blunderlab/internal/evalcache"
	"github.com/blunderlab/blunderlab/internal/events"
	"github.com/blunderlab/blunderlab/internal/models"
	"github.com/blunderlab/blunderlab/internal/providers"
	"github.com/blunderlab/blunderlab/internal/store"
	"github.com/blunderlab/blunderlab/internal/task"
	"github.com/blunderlab/blunderlab/internal/worker"
)

// App bundles every long-lived collaborator of a process.
type App struct {
	Cfg     *config.Config
	Redis   *redis.Client
	DB      *store.Postgres
	Runtime *task.Runtime
	Bus     *events.Bus
	Worker  *worker.Worker
	Cache   *evalcache.Cache // nil when caching is disabled
	Engines worker.EngineFactory
	Limit   engine.Limit

	log *logrus.Entry
}

// Boot loads configuration and connects every backing service. The
// returned App must be closed.
func Boot(ctx context.Context) (*App, error) {
	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg.LogLevel); err != nil {
		return nil, err
	}
	log := logrus.WithField("component", "app")

	redisOpts, err := redis.ParseURL(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("broker ping: %w", err)
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		rdb.Close()
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		rdb.Close()
		return nil, err
	}

	var cache *evalcache.Cache
	if cfg.CacheDir != "" {
		cache, err = evalcache.Open(cfg.CacheDir)
		if err != nil {
			log.WithError(err).Warn("evaluation cache disabled")
			cache = nil
		}
	}

	limit := engine.Limit{
		Depth:    cfg.EngineDepth,
		MoveTime: time.Duration(cfg.EngineTimeLimitMS) * time.Millisecond,
	}
	enginePath := cfg.EnginePath
	engines := func() (worker.AnalysisEngine, error) {
		return engine.New(enginePath)
	}

	rt := task.NewRuntime(task.NewRedisBroker(rdb))
	rt.SetConcurrency(task.QueueImports, cfg.ImportsQueueConcurrency)
	rt.SetConcurrency(task.QueueDefault, cfg.AnalysisQueueConcurrency)

	bus := events.NewBus(rdb)

	w := worker.New(db, rt, bus, buildAdapters(cfg), engines, limit, cache, buildCoach(cfg))
	w.Register()

	return &App{
		Cfg:     cfg,
		Redis:   rdb,
		DB:      db,
		Runtime: rt,
		Bus:     bus,
		Worker:  w,
		Cache:   cache,
		Engines: engines,
		Limit:   limit,
		log:     log,
	}, nil
}

// Close releases backing connections in reverse boot order.
func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.log.WithError(err).Warn("close evaluation cache")
		}
	}
	a.DB.Close()
	if err := a.Redis.Close(); err != nil {
		a.log.WithError(err).Warn("close redis client")
	}
}

func buildAdapters(cfg *config.Config) map[models.Provider]providers.Adapter {
	chessCom := providers.NewChessCom()
	chessCom.SetUserAgent(cfg.ChessComUserAgent)

	lichess := providers.NewLichess()
	lichess.SetMaxGames(cfg.LichessMaxGames)

	return map[models.Provider]providers.Adapter{
		models.ProviderChessCom: chessCom,
		models.ProviderLichess:  lichess,
	}
}

func buildCoach(cfg *config.Config) *coach.Coach {
	if !cfg.CoachEnabled {
		return nil
	}
	var backend coach.Commentator
	switch cfg.CoachProvider {
	case "external_api":
		backend = coach.NewExternalAPI(cfg.CoachEndpoint, cfg.CoachAPIKey, cfg.CoachModel)
	default:
		backend = coach.NewLocalLLM(cfg.CoachEndpoint, cfg.CoachModel)
	}
	return coach.New(backend)
}

func setupLogging(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("config: bad LOG_LEVEL %q", level)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}
