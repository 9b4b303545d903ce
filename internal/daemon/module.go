package daemon

import (
	"context"
	"time"

	"github.com/ravelhq/inboxd/internal/bus"
	"github.com/ravelhq/inboxd/internal/config"
	"github.com/ravelhq/inboxd/internal/delivery"
	"github.com/ravelhq/inboxd/internal/gateway"
	"github.com/ravelhq/inboxd/internal/gateway/meow"
	"github.com/ravelhq/inboxd/internal/identity"
	"github.com/ravelhq/inboxd/internal/inbox"
	"github.com/ravelhq/inboxd/internal/lock"
	"github.com/ravelhq/inboxd/internal/logging"
	"github.com/ravelhq/inboxd/internal/pending"
	"github.com/ravelhq/inboxd/internal/resolve"
	"github.com/ravelhq/inboxd/internal/status"
	"github.com/ravelhq/inboxd/internal/store"
	"github.com/ravelhq/inboxd/internal/workspace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved workspace configuration passed to the fx module.
type Params struct {
	WorkspaceName string
	Engine        config.Engine
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAdapter,
			provideGateway,
			provideResolver,
			provideCanonicalizer,
			provideBuffer,
			provideRouter,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(workspace.LogPath(p.WorkspaceName), p.WorkspaceName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := workspace.EnsureDir(p.WorkspaceName); err != nil {
		return nil, err
	}
	logger.Info("acquiring workspace lock", zap.String("workspace", p.WorkspaceName))
	l, err := lock.Acquire(workspace.Dir(p.WorkspaceName))
	if err != nil {
		return nil, err
	}
	logger.Info("workspace lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := workspace.CacheDBPath(p.WorkspaceName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAdapter(p Params, logger *zap.Logger) (*meow.Adapter, error) {
	return meow.NewAdapter(context.Background(), p.WorkspaceName, logger)
}

func provideGateway(a *meow.Adapter) gateway.Gateway {
	return a
}

func provideResolver(p Params, db *store.DB, gw gateway.Gateway, logger *zap.Logger) *resolve.Resolver {
	return resolve.New(p.WorkspaceName, db, gw, gw, p.Engine.HistoryPageSize, logger)
}

func provideCanonicalizer(p Params, r *resolve.Resolver, gw gateway.Gateway, logger *zap.Logger) *identity.Canonicalizer {
	tun := identity.Tunables{
		MinPhoneDigits:   p.Engine.MinPhoneDigits,
		ShadowWindowSecs: int64(p.Engine.ShadowWindowSecs),
	}
	return identity.NewCanonicalizer(r, gw, tun, logger)
}

func provideBuffer(p Params) *pending.Buffer {
	return pending.NewBuffer(time.Duration(p.Engine.PendingTTLMins) * time.Minute)
}

func provideRouter(gw gateway.Gateway, r *resolve.Resolver, logger *zap.Logger) *delivery.Router {
	return delivery.NewRouter(gw, r, logger)
}

func provideEngine(p Params, gw gateway.Gateway, canon *identity.Canonicalizer, router *delivery.Router, buf *pending.Buffer, db *store.DB, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *inbox.Engine {
	return inbox.NewEngine(p.WorkspaceName, gw, canon, router, buf, db, b, machine, p.Engine, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, adapter *meow.Adapter, engine *inbox.Engine, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start(context.Background())

			if adapter.IsLoggedIn() {
				go func() {
					if err := adapter.Connect(); err != nil {
						logger.Error("gateway connect failed", zap.Error(err))
					}
				}()
			} else {
				logger.Warn("no gateway credentials; pair the device before starting the daemon")
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			engine.Stop()
			adapter.Disconnect()
			_ = logger.Sync()
			return lk.Release()
		},
	})
}
