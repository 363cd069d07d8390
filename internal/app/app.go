// Package app wires the storage, pipeline and transport components shared
// by the server and worker binaries.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fedibird/fedimind/internal/api"
	"github.com/fedibird/fedimind/internal/builder"
	"github.com/fedibird/fedimind/internal/cache"
	"github.com/fedibird/fedimind/internal/db"
	"github.com/fedibird/fedimind/internal/fanout"
	"github.com/fedibird/fedimind/internal/federation"
	"github.com/fedibird/fedimind/internal/feed"
	"github.com/fedibird/fedimind/internal/ingest"
	"github.com/fedibird/fedimind/internal/lock"
	"github.com/fedibird/fedimind/internal/notify"
	"github.com/fedibird/fedimind/internal/resolver"
	"github.com/fedibird/fedimind/internal/search"
	"github.com/fedibird/fedimind/internal/snowflake"
	"github.com/fedibird/fedimind/internal/stream"
	"github.com/fedibird/fedimind/internal/tasks"
	"github.com/fedibird/fedimind/pkg/config"
	"github.com/fedibird/fedimind/pkg/logging"
	"github.com/fedibird/fedimind/pkg/telemetry"
)

const (
	keyPrefix = "fedimind:"
	taskQueue = keyPrefix + "tasks"
)

// keyValue is the cache surface shared by the resolver and the coordinator
type keyValue interface {
	ingest.Cache
	resolver.Cache
}

// bus carries broadcasts between fan-out and the streaming hub
type bus interface {
	stream.Broadcaster
	stream.Subscriber
}

// App holds every wired component
type App struct {
	Config      *config.Config
	DB          *db.DB
	Store       *db.Store
	Runner      *tasks.Runner
	Coordinator *ingest.Coordinator
	Hub         *stream.Hub

	// Shared reports whether queues, locks and broadcasts live in Redis and
	// are therefore visible to other processes
	Shared bool

	redis  *cache.Cache
	search *search.KafkaSink
	auth   *api.Authenticator
	logger *zap.Logger
}

// New connects to the database and Redis and builds the pipeline. metrics
// may be nil.
func New(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics) (*App, error) {
	logger := logging.WithComponent("app")

	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	node, err := nodeID(ctx, cfg.Instance.NodeID, database)
	if err != nil {
		database.Close()
		return nil, err
	}
	logger.Info("Id generator node assigned", zap.Int64("node", node))

	redisCache, err := cache.New(&cfg.Redis)
	if err != nil {
		database.Close()
		return nil, err
	}

	a := &App{
		Config: cfg,
		DB:     database,
		Store:  db.NewStore(database.DB),
		redis:  redisCache,
		auth:   api.NewAuthenticator(cfg.Server.JWTSecret),
		logger: logger,
	}

	var (
		kv          keyValue
		locker      lock.Locker
		feeds       feed.Queue
		broadcaster bus
		taskStore   tasks.Store
	)
	if redisCache != nil {
		client := redisCache.Client()
		kv = redisCache
		locker = lock.NewRedisLocker(client, keyPrefix)
		feeds = feed.NewRedisQueue(client, keyPrefix, cfg.FanOut.FeedMaxEntries)
		broadcaster = stream.NewRedisBroadcaster(client, keyPrefix)
		taskStore = tasks.NewRedisStore(client, taskQueue, cfg.Tasks.QueueSize)
		a.Shared = true
	} else {
		logger.Warn("Redis disabled, using in-process queues and locks")
		kv = cache.NewMemory()
		locker = lock.NewMemoryLocker()
		feeds = feed.NewMemoryQueue(cfg.FanOut.FeedMaxEntries)
		broadcaster = stream.NewMemoryBroadcaster()
		taskStore = tasks.NewMemoryStore(cfg.Tasks.QueueSize)
	}

	var index search.Sink = search.NopSink{}
	if cfg.Kafka.Enabled {
		a.search = search.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.SearchTopic)
		index = a.search
		logger.Info("Search index sink enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	a.Runner = tasks.NewRunner(taskStore, &cfg.Tasks, metrics)
	fetcher := federation.NewClient(cfg.Ingest.FetchTimeout)
	notifier := notify.New(a.Store)

	res := resolver.New(a.Store, fetcher, kv, a.Runner, notifier, resolver.Options{
		Domain:   cfg.Instance.Domain,
		CacheTTL: cfg.Ingest.ResolveCacheTTL,
	})

	dispatcher := fanout.NewDispatcher(a.Store, feeds, broadcaster, index, cfg.FanOut.BatchSize, cfg.FanOut.Workers, metrics)

	a.Coordinator = ingest.New(ingest.Deps{
		Store:    a.Store,
		Builder:  builder.New(res, a.Store, cfg.Instance.Domain, cfg.Instance.GraceWindow),
		Resolver: res,
		Locker:   locker,
		Cache:    kv,
		IDs:      snowflake.New(node),
		FanOut:   fanout.NewService(a.Store, dispatcher, cfg.Instance.Domain),
		Notifier: notifier,
		Tasks:    a.Runner,
		Fetcher:  fetcher,
		Search:   index,
		Metrics:  metrics,
	}, &cfg.Ingest, cfg.Instance.Domain)
	a.Coordinator.RegisterTasks(a.Runner)

	a.Hub = stream.NewHub(broadcaster)

	return a, nil
}

// nodeAllocator hands out node ids shared by every process using one database
type nodeAllocator interface {
	NextNodeID(ctx context.Context) (int64, error)
}

// nodeID returns the configured node, or draws one when configured is negative
func nodeID(ctx context.Context, configured int64, alloc nodeAllocator) (int64, error) {
	if configured >= 0 {
		return configured, nil
	}
	n, err := alloc.NextNodeID(ctx)
	if err != nil {
		return 0, err
	}
	return n % (snowflake.MaxNode + 1), nil
}

// Router builds the HTTP routes over the pipeline
func (a *App) Router() *api.Router {
	router := api.NewRouter(a.Coordinator, a.Store, a.Hub, a.auth)
	router.AddHealthCheck("database", a.DB.Health)
	if a.redis != nil {
		router.AddHealthCheck("redis", a.redis.Health)
	}
	return router
}

// Close releases connections
func (a *App) Close() {
	if a.search != nil {
		if err := a.search.Close(); err != nil {
			a.logger.Error("Failed to close search sink", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("Failed to close Redis", zap.Error(err))
		}
	}
	if err := a.DB.Close(); err != nil {
		a.logger.Error("Failed to close database", zap.Error(err))
	}
}
