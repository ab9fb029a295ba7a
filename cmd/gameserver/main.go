// Package main provides the game server binary: a WebSocket relay for room
// state with server-side position, combat, inventory, and harvest rules.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/grove/internal/cache"
	"github.com/cory-johannsen/grove/internal/config"
	"github.com/cory-johannsen/grove/internal/frontend/ws"
	"github.com/cory-johannsen/grove/internal/game/combat"
	"github.com/cory-johannsen/grove/internal/game/dice"
	"github.com/cory-johannsen/grove/internal/game/floor"
	"github.com/cory-johannsen/grove/internal/game/harvest"
	"github.com/cory-johannsen/grove/internal/game/item"
	"github.com/cory-johannsen/grove/internal/game/position"
	"github.com/cory-johannsen/grove/internal/game/session"
	"github.com/cory-johannsen/grove/internal/gameserver"
	"github.com/cory-johannsen/grove/internal/httpapi"
	"github.com/cory-johannsen/grove/internal/observability"
	"github.com/cory-johannsen/grove/internal/push"
	"github.com/cory-johannsen/grove/internal/server"
	"github.com/cory-johannsen/grove/internal/storage"
	"github.com/cory-johannsen/grove/internal/storage/postgres"
	redisstore "github.com/cory-johannsen/grove/internal/storage/redis"
)

const stopTimeout = 15 * time.Second

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	catalogPath := flag.String("catalog", "", "path to an item catalog YAML file; empty uses the built-in catalog")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting game server",
		zap.String("http_addr", cfg.HTTP.Addr()),
		zap.String("mode", cfg.Server.Mode),
		zap.String("store", cfg.Store.Backend),
	)

	lc := server.NewLifecycle(logger, stopTimeout)

	store, closeStore := openStore(ctx, cfg, lc, logger)
	defer closeStore()

	catalog, err := loadCatalog(*catalogPath)
	if err != nil {
		logger.Fatal("loading item catalog", zap.Error(err))
	}
	logger.Info("item catalog loaded", zap.Int("items", len(catalog.All())))

	policy, err := position.NewPolicy(cfg.Server.Mode, cfg.Server.Validation)
	if err != nil {
		logger.Fatal("selecting validation policy", zap.Error(err))
	}
	if policy.Name() != config.ValidationStrict {
		logger.Warn("position validation relaxed", zap.String("policy", policy.Name()))
	}

	roller := dice.NewLoggedRoller(dice.NewCryptoSource(), logger)

	players := session.NewRepository(store, cfg.Game.PlayerTTL)
	groundItems := floor.NewManager(store, cfg.Game.GroundItemTTL)

	hub := ws.NewHub()
	broadcaster := push.NewBroadcaster(hub,
		cache.NewStaleLRU(cfg.Game.StaleSetSize, cfg.Game.PlayerTTL),
		cfg.Game.BroadcastConcurrency, logger)
	rooms := gameserver.NewRooms(players, broadcaster,
		cache.NewConnectionLRU(cfg.Game.ConnectionCacheSize, cfg.Game.ConnectionCacheTTL), logger)

	harvests := harvest.NewService(store, players, catalog, roller, cfg.Game.HarvestTTL, logger)
	router := gameserver.NewRouter(gameserver.Services{
		Players:   players,
		Validator: position.NewValidator(players, policy, logger),
		Combat:    combat.NewResolver(players, groundItems, catalog, roller, rooms, logger),
		Harvests:  harvests,
		Floor:     groundItems,
		Catalog:   catalog,
	}, rooms, cfg.Game.PickupRange, logger)
	router.SetActivityRefresh(cfg.Game.RefreshOnActivity)
	broadcaster.OnGone(func(ctx context.Context, connID string) { router.Purge(ctx, connID) })

	acceptor := ws.NewAcceptor(cfg.HTTP, hub, router, logger)
	handler := httpapi.NewRouter(httpapi.Deps{
		WebSocket:   acceptor,
		Rooms:       rooms,
		GroundItems: groundItems,
		Live:        hub.Len,
		Ready:       store.Ping,
	}, logger)

	lc.Add("harvest-scheduler", &server.FuncService{
		StartFn: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
		StopFn: func(context.Context) error {
			harvests.Stop()
			return nil
		},
	})
	lc.Add("websocket", &server.FuncService{
		StartFn: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		},
		StopFn: func(context.Context) error {
			acceptor.Stop()
			return nil
		},
	})
	lc.Add("http", &server.HTTPService{Server: httpapi.NewServer(cfg.HTTP, handler)})

	logger.Info("game server ready",
		zap.String("addr", cfg.HTTP.Addr()),
		zap.Duration("startup", time.Since(start)),
	)

	if err := lc.Run(ctx); err != nil {
		logger.Error("game server stopped with errors", zap.Error(err))
	}
}

// openStore connects the configured backend and registers any background
// work it needs with lc. The returned func releases the connection.
func openStore(ctx context.Context, cfg config.Config, lc *server.Lifecycle, logger *zap.Logger) (storage.Store, func()) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		client, err := redisstore.NewClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal("connecting to redis", zap.Error(err))
		}
		logger.Info("redis connected", zap.String("address", cfg.Redis.Address))
		return redisstore.New(client), func() { _ = client.Close() }

	case config.BackendPostgres:
		dbStart := time.Now()
		if err := postgres.Migrate(cfg.Database.DSN()); err != nil {
			logger.Fatal("migrating database", zap.Error(err))
		}
		db, err := postgres.Connect(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		store := postgres.NewStore(db)
		sweeper := postgres.NewSweeper(store, cfg.Store.SweepInterval, logger)
		lc.Add("expiry-sweeper", &server.FuncService{StartFn: sweeper.Run})
		return store, db.Close

	default:
		logger.Warn("using in-memory store; state is lost on restart")
		return storage.NewMemoryStore(), func() {}
	}
}

func loadCatalog(path string) (*item.Catalog, error) {
	if path == "" {
		return item.DefaultCatalog()
	}
	return item.LoadCatalogFile(path)
}
