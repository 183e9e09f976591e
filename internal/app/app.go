package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/roomchat-server/internal/auth"
	"github.com/vovakirdan/roomchat-server/internal/config"
	"github.com/vovakirdan/roomchat-server/internal/core"
	"github.com/vovakirdan/roomchat-server/internal/session"
	"github.com/vovakirdan/roomchat-server/internal/store"
	"github.com/vovakirdan/roomchat-server/internal/store/file"
	"github.com/vovakirdan/roomchat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/roomchat-server/internal/transport/http"
	"github.com/vovakirdan/roomchat-server/internal/transport/tcp"
)

// ErrRestart is returned by Run when a restart was requested.
var ErrRestart = errors.New("restart requested")

const shutdownNotice = "Server is shutting down"

// App wires together core and transport layers.
type App struct {
	cfg     config.Config
	cfgPath string
	log     *zerolog.Logger

	store    store.Store
	registry *core.Registry
	sessions *session.Manager
	tcp      *tcp.Server
	http     *stdhttp.Server
	reaper   *core.Reaper

	stopCh       chan struct{}
	stopOnce     sync.Once
	restart      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

var _ session.Controller = (*App)(nil)

// OpenStore opens the store selected by cfg.
func OpenStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.New(cfg.DatabasePath)
	case config.DriverFile, "":
		return file.New(cfg.ClientsDir, cfg.RoomsDir)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// New constructs the application with provided configuration. cfgPath is
// where Save writes the configuration back; empty disables that.
func New(cfg config.Config, cfgPath string, logger *zerolog.Logger) (*App, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := OpenStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.Storage.Driver).Msg("store initialized")

	registry := core.NewRegistry(st, core.Options{HistorySize: cfg.HistorySize}, logger)
	if err := registry.Bootstrap(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}

	creds := auth.ServerCredentials{Login: cfg.ServerLogin, Password: cfg.ServerPassword}
	a := &App{
		cfg:      cfg,
		cfgPath:  cfgPath,
		log:      logger,
		store:    st,
		registry: registry,
		reaper:   core.NewReaper(registry, cfg.ReaperInterval, logger),
		stopCh:   make(chan struct{}),
	}

	handlers := session.NewHandlers(session.Deps{
		Registry: registry,
		Auth: auth.NewService(registry, auth.Options{
			BcryptCost:  cfg.BcryptCost,
			AdminLogins: cfg.AdminLogins,
		}),
		Credentials: creds,
		Control:     a,
		Logger:      logger,
	})
	a.sessions = session.NewManager(registry, session.NewDispatcher(handlers, logger), session.Config{
		IdleTimeout:  cfg.IdleTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)
	a.tcp = tcp.NewServer(cfg.Addr, a.sessions, cfg.MaxMessageBytes, logger)

	if cfg.HTTPAddr != "" {
		a.http = transporthttp.NewServer(cfg.HTTPAddr, transporthttp.Deps{
			Registry:    registry,
			Sessions:    a.sessions,
			Credentials: creds,
			MaxFrame:    cfg.MaxMessageBytes,
			StartedAt:   time.Now(),
			Logger:      logger,
		})
	}
	return a, nil
}

// Addr returns the bound TCP address once Run has started listening.
func (a *App) Addr() net.Addr {
	return a.tcp.Addr()
}

// Run binds the listeners and serves until ctx ends or Stop/Restart is
// called, then shuts down. It returns ErrRestart after a restart request.
func (a *App) Run(ctx context.Context) error {
	if err := a.tcp.Listen(); err != nil {
		a.closeStore()
		return err
	}

	serverErr := make(chan error, 2)
	if a.http != nil {
		ln, err := net.Listen("tcp", a.http.Addr)
		if err != nil {
			_ = a.tcp.Close()
			a.closeStore()
			return fmt.Errorf("listen http %s: %w", a.http.Addr, err)
		}
		a.log.Info().Str("addr", ln.Addr().String()).Msg("http listening")
		go func() {
			if err := a.http.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				serverErr <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		a.reaper.Run(reaperCtx)
	}()
	go func() {
		if err := a.tcp.Serve(runCtx); err != nil {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info().Msg("shutdown signal received")
	case <-a.stopCh:
		a.log.Info().Bool("restart", a.restart.Load()).Msg("stop requested")
	case runErr = <-serverErr:
		a.log.Error().Err(runErr).Msg("server failed")
	}

	// no sweep may overlap the final save or run on a closed store
	stopReaper()
	<-reaperDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("shutdown finished with errors")
	}

	if runErr != nil {
		return runErr
	}
	if a.restart.Load() {
		return ErrRestart
	}
	return nil
}

// Stop asks Run to shut the server down.
func (a *App) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Restart asks Run to shut down and return ErrRestart.
func (a *App) Restart() {
	a.restart.Store(true)
	a.Stop()
}

// Shutdown stops accepting, kicks every session, saves everything and closes
// the store. Only the first call does the work.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		var errs []error
		if err := a.tcp.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close listener: %w", err))
		}
		if a.http != nil {
			if err := a.http.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown http: %w", err))
			}
		}

		a.log.Info().Int("sessions", a.sessions.Count()).Msg("closing sessions")
		if err := a.sessions.CloseAll(ctx, shutdownNotice); err != nil {
			errs = append(errs, fmt.Errorf("close sessions: %w", err))
		}

		if !a.Save(context.WithoutCancel(ctx)) {
			errs = append(errs, errors.New("save state: see log"))
		}
		if err := a.closeStore(); err != nil {
			errs = append(errs, err)
		}
		a.shutdownErr = errors.Join(errs...)
		a.log.Info().Msg("server stopped")
	})
	return a.shutdownErr
}

// Save persists configuration, online clients and online rooms. It keeps
// going after failures and reports whether everything was saved.
func (a *App) Save(ctx context.Context) bool {
	ok := true
	if a.cfgPath != "" {
		if err := config.Save(a.cfgPath, a.cfg); err != nil {
			a.log.Error().Err(err).Str("path", a.cfgPath).Msg("failed to save config")
			ok = false
		}
	}
	if err := a.registry.SaveAll(ctx); err != nil {
		a.log.Error().Err(err).Msg("failed to save state")
		ok = false
	}
	return ok
}

func (a *App) closeStore() error {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
		return fmt.Errorf("close store: %w", err)
	}
	a.log.Info().Msg("store closed")
	return nil
}
