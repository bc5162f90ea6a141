// Package app constructs and owns every CleanSpace service.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cleanspace/airquest/internal/assistant"
	"github.com/cleanspace/airquest/internal/audit"
	"github.com/cleanspace/airquest/internal/auth"
	"github.com/cleanspace/airquest/internal/config"
	"github.com/cleanspace/airquest/internal/gateway"
	"github.com/cleanspace/airquest/internal/localcache"
	"github.com/cleanspace/airquest/internal/models"
	"github.com/cleanspace/airquest/internal/offline"
	"github.com/cleanspace/airquest/internal/providers"
	"github.com/cleanspace/airquest/internal/queue"
	"github.com/cleanspace/airquest/internal/remote"
	"github.com/cleanspace/airquest/internal/store"
)

// MissionProgressTable receives realtime progress updates.
const MissionProgressTable = "mission_progress"

// App holds the services of one CleanSpace process. Fields are set by New
// and must not be replaced afterwards.
type App struct {
	Config    *config.Config
	Store     *store.Store
	Cache     *localcache.Cache
	Remote    remote.Store
	Ledger    *audit.Ledger
	Queue     *queue.Queue
	Gateway   *gateway.Gateway
	Sync      *offline.Coordinator
	Sessions  *auth.Sessions
	Refresher *auth.Refresher
	Assistant *assistant.Client

	unsubAuth func()
	realtime  remote.Subscription
	started   bool
}

// Option customizes construction.
type Option func(*options)

type options struct {
	remote    remote.Store
	providers func(*gateway.Gateway)
}

// WithRemote replaces the configured remote store.
func WithRemote(rs remote.Store) Option {
	return func(o *options) { o.remote = rs }
}

// WithProviders replaces provider registration.
func WithProviders(register func(*gateway.Gateway)) Option {
	return func(o *options) { o.providers = register }
}

// New builds every service from cfg. Nothing runs until Start.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{Config: cfg, Store: st}
	if err := a.build(o); err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(o options) error {
	cfg := a.Config

	cache, err := localcache.New(a.Store)
	if err != nil {
		return fmt.Errorf("open local cache: %w", err)
	}
	a.Cache = cache

	a.Sessions = auth.NewSessions(a.Store)

	a.Remote = o.remote
	if a.Remote == nil {
		a.Remote = newRemote(cfg, a.Sessions)
	}
	if cfg.Remote.Mode == config.RemoteSupabase {
		a.Refresher = auth.NewRefresher(cfg.Remote.URL, cfg.Remote.AnonKey, a.Sessions)
	}

	a.Ledger = audit.NewLedger(a.Store)
	qopts := []queue.Option{queue.WithDropRecorder(a.Ledger)}
	if cfg.Queue.BackoffBase > 0 {
		qopts = append(qopts, queue.WithBackoff(cfg.Queue.BackoffBase, cfg.Queue.BackoffMax))
	}
	a.Queue, err = queue.New(a.Store, queue.NewRemoteDeliverer(a.Remote), qopts...)
	if err != nil {
		return fmt.Errorf("open action queue: %w", err)
	}

	a.Gateway = gateway.New(a.Remote, a.Cache)
	if o.providers != nil {
		o.providers(a.Gateway)
	} else {
		registerProviders(a.Gateway, cfg.Providers)
	}

	syncCfg := cfg.Sync
	a.Sync = offline.New(a.Queue, a.Cache, &syncCfg)
	if h, ok := a.Remote.(remote.HealthChecker); ok {
		a.Sync.SetProbe(h)
	}

	a.Assistant = assistant.New(cfg.Assistant.APIKey, assistant.WithModel(cfg.Assistant.Model))

	a.unsubAuth = a.Sessions.Subscribe(func(ev auth.Event) {
		switch ev.Type {
		case auth.SignedIn:
			log.Printf("Signed in as %s", ev.Session.User.Email)
		case auth.SignedOut:
			log.Println("Signed out")
		}
	})
	return nil
}

func newRemote(cfg *config.Config, sessions *auth.Sessions) remote.Store {
	if cfg.Remote.Mode == config.RemoteSupabase {
		return remote.NewSupabase(cfg.Remote.URL, cfg.Remote.AnonKey, sessions.AccessToken)
	}
	return remote.NewMemory()
}

func registerProviders(g *gateway.Gateway, pc config.ProvidersConfig) {
	opts := providers.Options{RatePerSecond: pc.RatePerSecond}
	add := func(dt gateway.DataType, ps ...gateway.Provider) {
		for _, p := range ps {
			if pc.IsDisabled(p.Name()) {
				log.Printf("Provider %s disabled by config", p.Name())
				continue
			}
			g.Register(dt, p)
		}
	}

	openaq := providers.NewOpenAQ(pc.OpenAQKey, opts)
	add(gateway.RealtimeAQI, providers.NewOpenMeteoAirQuality(opts), openaq)
	add(gateway.GroundStations, openaq)
	add(gateway.Weather, providers.NewOpenMeteoWeather(opts))
	add(gateway.Fires, providers.NewNASAFirms(pc.FirmsKey, opts))
	add(gateway.Precipitation, providers.NewNASAPower(opts))
}

// Start runs the background loops: periodic sync, connectivity probe,
// token refresh and the realtime mission feed.
func (a *App) Start(ctx context.Context) {
	if a.started {
		return
	}
	a.started = true

	a.Sync.Start()
	if a.Refresher != nil {
		a.Refresher.Start()
	}
	if a.Config.Remote.Realtime {
		a.subscribeMissions(ctx)
	}
}

func (a *App) subscribeMissions(ctx context.Context) {
	var filter remote.Filter
	if uid := a.Sessions.UserID(); uid != "" {
		filter = remote.Filter{remote.Eq("user_id", uid)}
	}
	sub, err := a.Remote.Subscribe(ctx, MissionProgressTable, filter, func(c remote.Change) {
		log.Printf("Mission progress %s: %v", c.Type, c.Record["mission_id"])
	})
	if err != nil {
		log.Printf("Error subscribing to mission progress: %v", err)
		return
	}
	a.realtime = sub
}

// Close stops background work and releases the database.
func (a *App) Close() error {
	a.Sync.Stop()
	if a.Refresher != nil {
		a.Refresher.Stop()
	}
	if a.realtime != nil {
		if err := a.realtime.Unsubscribe(); err != nil {
			log.Printf("Error closing realtime feed: %v", err)
		}
	}
	if a.unsubAuth != nil {
		a.unsubAuth()
	}
	a.Cache.Close()
	return a.Store.Close()
}

// Snapshot resolves the current conditions at loc and caches them locally.
func (a *App) Snapshot(ctx context.Context, loc models.Location) models.EnvironmentalSnapshot {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	return a.Gateway.Snapshot(ctx, loc)
}
