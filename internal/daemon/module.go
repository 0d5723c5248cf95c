package daemon

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/backend"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/config"
	"github.com/matheus3301/huddle/internal/conn"
	"github.com/matheus3301/huddle/internal/conversation"
	"github.com/matheus3301/huddle/internal/credentials"
	"github.com/matheus3301/huddle/internal/delivery"
	"github.com/matheus3301/huddle/internal/journal"
	"github.com/matheus3301/huddle/internal/lock"
	"github.com/matheus3301/huddle/internal/logging"
	"github.com/matheus3301/huddle/internal/presence"
	"github.com/matheus3301/huddle/internal/profile"
	"github.com/matheus3301/huddle/internal/status"
	"github.com/matheus3301/huddle/internal/store"
	"github.com/matheus3301/huddle/internal/unread"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // optional override; empty = profile.ConfigPath()
}

// How much of the cache is restored at startup.
const (
	hydrateConversations = 500
	hydrateMessages      = 200
)

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideProfile,
			provideLogger,
			provideCredentials,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideJournal,
			provideConnection,
			provideBackend,
			provideAggregator,
			provideUnread,
			provideDelivery,
			providePresence,
			provideSessionService,
			provideChatService,
			provideMessageService,
			providePresenceService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideProfile(p Params) (config.Profile, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.Profile{}, err
	}
	return cfg.Profile(p.ProfileName), nil
}

func provideLogger(p Params, prof config.Profile) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, prof.LogLevel)
}

func provideCredentials(prof config.Profile, logger *zap.Logger) (credentials.Credentials, error) {
	creds, info, err := credentials.Resolve(prof.Token, prof.UserID)
	if err != nil {
		return credentials.Credentials{}, err
	}
	if info.Expired {
		logger.Warn("token looks expired; the backend may reject it", zap.Time("expires_at", info.ExpiresAt))
	}
	logger.Info("credentials resolved", zap.String("user_id", creds.UserID))
	return creds, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so two daemons never share a cache.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CachePath(p.ProfileName)
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
	logger.Info("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func provideJournal(db *store.DB, b *bus.Bus, logger *zap.Logger) *journal.Journal {
	return journal.New(db, b, logger.Named("journal"))
}

func provideConnection(prof config.Profile, m *status.Machine, logger *zap.Logger) *conn.Manager {
	bo := conn.DefaultBackoff
	bo.BaseDelay = prof.Timing.ReconnectMin.Duration
	bo.MaxDelay = prof.Timing.ReconnectMax.Duration
	return conn.NewManager(conn.Options{
		URL:         prof.SocketURL,
		Backoff:     bo,
		DialTimeout: prof.Timing.RequestTimeout.Duration,
	}, m, logger.Named("conn"))
}

func provideBackend(prof config.Profile, creds credentials.Credentials, logger *zap.Logger) (*backend.Client, error) {
	return backend.New(prof.APIURL, creds, prof.Timing.RequestTimeout.Duration, logger)
}

func provideAggregator(prof config.Profile, client *backend.Client, b *bus.Bus, logger *zap.Logger) *conversation.Aggregator {
	return conversation.New(client, conversation.Options{
		PageSize:       prof.PageSize,
		SearchDebounce: prof.Timing.SearchDebounce.Duration,
		OnChange:       conversationObserver(b),
	}, logger)
}

func provideUnread(agg *conversation.Aggregator, client *backend.Client) *unread.Counter {
	return unread.New(agg, client)
}

func provideDelivery(prof config.Profile, creds credentials.Credentials, m *conn.Manager, agg *conversation.Aggregator, b *bus.Bus, logger *zap.Logger) *delivery.Engine {
	return delivery.New(m, delivery.Options{
		UserID:      creds.UserID,
		SendTimeout: prof.Timing.SendTimeout.Duration,
		OnChange:    deliveryObserver(b, agg, creds.UserID),
	}, logger)
}

func providePresence(prof config.Profile, creds credentials.Credentials, m *conn.Manager, agg *conversation.Aggregator, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.New(m, presence.Options{
		UserID:        creds.UserID,
		ProbeInterval: prof.Timing.ProbeInterval.Duration,
		StaleAfter:    prof.Timing.PresenceStaleAfter.Duration,
		OnChange:      presenceObserver(b),
		OnActivity:    activityObserver(agg),
	}, logger)
}

func provideSessionService(p Params, creds credentials.Credentials, m *conn.Manager, agg *conversation.Aggregator, d *delivery.Engine, b *bus.Bus, db *store.DB, logger *zap.Logger) *api.SessionService {
	return api.NewSessionService(p.ProfileName, creds.UserID, uuid.NewString(), api.SessionDeps{
		Conn:          m,
		Conversations: agg,
		Delivery:      d,
		Events:        b,
		Cache:         db,
	}, logger)
}

func provideChatService(agg *conversation.Aggregator, u *unread.Counter) *api.ChatService {
	return api.NewChatService(agg, u)
}

func provideMessageService(d *delivery.Engine, b *bus.Bus, logger *zap.Logger) *api.MessageService {
	return api.NewMessageService(d, b, logger.Named("api"))
}

func providePresenceService(t *presence.Tracker) *api.PresenceService {
	return api.NewPresenceService(t)
}

type lifecycleParams struct {
	fx.In

	Profile     config.Profile
	Credentials credentials.Credentials
	Server      *Server
	Lock        *lock.Lock
	DB          *store.DB
	Journal     *journal.Journal
	Conn        *conn.Manager
	Aggregator  *conversation.Aggregator
	Unread      *unread.Counter
	Delivery    *delivery.Engine
	Presence    *presence.Tracker
	Logger      *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleParams) {
	logger := d.Logger
	var cancelSync context.CancelFunc

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			counts, err := d.Journal.Load(d.Aggregator, d.Delivery, hydrateConversations, hydrateMessages)
			if err != nil {
				logger.Warn("cache hydration failed", zap.Error(err))
			} else {
				logger.Info("cache hydrated",
					zap.Int("conversations", counts.Conversations),
					zap.Int("messages", counts.Messages))
			}

			// Start journal before anything can publish domain events.
			d.Journal.Start(context.Background())
			d.Presence.Start()

			if err := d.Conn.Start(context.Background(), d.Credentials); err != nil {
				return err
			}

			// Start gRPC server in background.
			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			var syncCtx context.Context
			syncCtx, cancelSync = context.WithCancel(context.Background())
			go initialSync(syncCtx, d.Aggregator, d.Unread, d.Profile.Timing.RequestTimeout.Duration, logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancelSync != nil {
				cancelSync()
			}
			d.Server.Stop(ctx)
			d.Presence.Stop()
			d.Delivery.Close()
			d.Aggregator.Close()
			d.Conn.Teardown()
			d.Journal.Stop()
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// initialSync loads the first page and the backend unread totals. Failures
// are logged; the cached list stays usable.
func initialSync(ctx context.Context, agg *conversation.Aggregator, u *unread.Counter, timeout time.Duration, logger *zap.Logger) {
	pageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	page, err := agg.ListPage(pageCtx, 1, 0)
	if err != nil {
		logger.Warn("initial page fetch failed", zap.Error(err))
	} else {
		logger.Info("initial page loaded", zap.Int("conversations", len(page.Conversations)))
	}

	unreadCtx, cancelUnread := context.WithTimeout(ctx, timeout)
	defer cancelUnread()
	if totals, err := u.Sync(unreadCtx); err != nil {
		logger.Warn("unread sync failed", zap.Error(err))
	} else {
		logger.Info("unread synced", zap.Int("messages", totals.Messages), zap.Int("chats", totals.Chats))
	}
}
