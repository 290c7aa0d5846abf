// Package app arma el servidor completo a partir de una config.Config.
package app

import (
	"context"
	"maps"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"so-appserver/internal/config"
	"so-appserver/internal/handlers"
	"so-appserver/internal/logger"
	"so-appserver/internal/metrics"
	"so-appserver/internal/router"
	"so-appserver/internal/script"
	"so-appserver/internal/server"
	"so-appserver/internal/session"
)

// App es el proceso ya cableado: servidor, almacén de sesiones y, si el
// backend es redis, su cliente.
type App struct {
	Config  config.Config
	Server  *server.Server
	Store   session.Store
	Metrics *metrics.Metrics
	Log     logger.Logger

	redis *redis.Client
}

// New valida cfg y construye todas las piezas. No abre el socket: eso lo
// hace Start.
func New(ctx context.Context, cfg config.Config, log logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}
	a := &App{Config: cfg, Log: log}

	store, err := a.newStore(ctx)
	if err != nil {
		return nil, err
	}
	a.Store = store

	if cfg.Metrics {
		a.Metrics = metrics.New()
		if err := a.Metrics.RegisterSessions(a.sessionCount); err != nil {
			a.Close()
			return nil, err
		}
	}

	var srv *server.Server
	builtins := handlers.Builtins(handlers.Deps{
		Status:  func(ctx context.Context) any { return srv.Snapshot(ctx) },
		Metrics: a.Metrics,
	})

	routes := handlers.DefaultRoutes()
	maps.Copy(routes, cfg.Handlers)
	ext := handlers.DefaultExternal()
	maps.Copy(ext, cfg.Ext)

	named, external := router.NewRegistry(), router.NewRegistry()
	if err := handlers.Populate(named, builtins, routes); err != nil {
		a.Close()
		return nil, errors.Wrap(err, "app: handlers")
	}
	if err := handlers.Populate(external, builtins, ext); err != nil {
		a.Close()
		return nil, errors.Wrap(err, "app: ext")
	}

	rt, err := router.New(router.Config{
		DocumentRoot:     cfg.DocumentRoot,
		ReservedPrefixes: cfg.ReservedPrefixes,
		MIME:             router.NewMIMETable(cfg.MIME),
		Named:            named,
		External:         external,
		Script:           script.New(),
		Log:              log.WithPrefix("[router]"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	srv, err = server.New(server.Config{
		Addr:          cfg.Addr,
		Workers:       cfg.Workers,
		Queue:         cfg.Queue,
		AcceptPoll:    cfg.AcceptPoll.D(),
		SweepInterval: cfg.SweepInterval.D(),
		ConnTimeout:   cfg.ConnTimeout.D(),
		Router:        rt,
		Store:         store,
		Log:           log,
		Metrics:       a.Metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Server = srv
	log.Debug("handlers: named=%v ext=%v", named.Names(), external.Names())
	return a, nil
}

func (a *App) newStore(ctx context.Context) (session.Store, error) {
	cfg := a.Config
	opts := []session.Option{session.WithTimeout(cfg.SessionTimeout.D())}
	switch cfg.SessionBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := session.Ping(ctx, client); err != nil {
			_ = client.Close()
			return nil, err
		}
		a.redis = client
		if cfg.Redis.Prefix != "" {
			opts = append(opts, session.WithPrefix(cfg.Redis.Prefix))
		}
		a.Log.Info("sessions: redis at %s", cfg.Redis.Addr)
		return session.NewRedisStore(client, opts...), nil
	default:
		return session.NewMemoryStore(opts...), nil
	}
}

func (a *App) sessionCount() float64 {
	n, err := a.Store.Len(context.Background())
	if err != nil {
		return -1
	}
	return float64(n)
}

// Start arranca el servidor.
func (a *App) Start() error { return a.Server.Start() }

// Stop detiene el servidor y libera el cliente de redis.
func (a *App) Stop(ctx context.Context) error {
	var err error
	if a.Server != nil {
		err = a.Server.Stop(ctx)
	}
	return errors.CombineErrors(err, a.Close())
}

// Close libera recursos externos. Es idempotente.
func (a *App) Close() error {
	if a.redis == nil {
		return nil
	}
	c := a.redis
	a.redis = nil
	return errors.Wrap(c.Close(), "app: close redis")
}
