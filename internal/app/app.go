// Package app wires the gateway together: state store, channel backends,
// inference client, poll loops, scheduler and the control API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nhle/localclaw/internal/ai"
	"github.com/nhle/localclaw/internal/api"
	"github.com/nhle/localclaw/internal/credential"
	"github.com/nhle/localclaw/internal/logging"
	"github.com/nhle/localclaw/internal/model"
	"github.com/nhle/localclaw/internal/pipeline"
	"github.com/nhle/localclaw/internal/scheduler"
	"github.com/nhle/localclaw/internal/settings"
	"github.com/nhle/localclaw/internal/store"
	gosync "github.com/nhle/localclaw/internal/sync"
)

// memoryMaxAge is how long a memory fact survives without being updated
// once the memory_cleanup job is enabled.
const memoryMaxAge = 90 * 24 * time.Hour

// App is a fully wired gateway process.
type App struct {
	cfg       *model.AppConfig
	logger    *zap.Logger
	persister *store.SQLitePersister
	store     *store.Store
	runtime   *settings.Runtime
	ollama    *ai.OllamaClient
	poller    *gosync.Poller
	scheduler *scheduler.Runner
	server    *http.Server
}

// Option configures an App.
type Option func(*options)

type options struct {
	secrets credential.SecretStore
}

// WithSecrets overrides the system keyring.
func WithSecrets(s credential.SecretStore) Option {
	return func(o *options) { o.secrets = s }
}

// New builds every component from cfg. base is the process logger; the
// returned App also mirrors its records into the store's diagnostic log.
func New(ctx context.Context, cfg *model.AppConfig, base *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	persister, err := store.NewSQLitePersister(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	identity := model.Identity{
		Name:    cfg.Identity.AssistantName,
		Owner:   cfg.Identity.OwnerName,
		Tone:    cfg.Identity.Tone,
		SignOff: "-- " + cfg.Identity.AssistantName,
		Model:   cfg.AI.Model,
	}
	// The store logs through base: mirroring its own warnings back into
	// itself would re-enter the store lock.
	st, err := store.New(ctx, persister, identity,
		store.WithMaxLogLines(cfg.Store.MaxLogLines),
		store.WithLogger(base.Named("store")),
	)
	if err != nil {
		_ = persister.Close()
		return nil, err
	}
	logger := logging.WithSink(base, st)

	secrets := o.secrets
	if secrets == nil {
		ring, err := credential.OpenKeyring(cfg.Credentials.FileDir)
		if err != nil {
			_ = persister.Close()
			return nil, err
		}
		secrets = ring
	}

	ollama := ai.NewOllamaClient(cfg.AI.BaseURL, cfg.AI.Model,
		time.Duration(cfg.AI.TimeoutSec)*time.Second,
		ai.WithLogger(logger.Named("ollama")),
	)
	proc := pipeline.New(ollama, st,
		pipeline.WithChannelTypes(channelTypes(cfg.Channels)),
		pipeline.WithLogger(logger.Named("pipeline")),
	)

	rt := settings.New(cfg)
	poller := gosync.New(rt, proc, logger.Named("poller"))
	for _, ch := range cfg.Channels {
		backend, err := newBackend(ch, secrets, logger.Named("source"))
		if err != nil {
			_ = persister.Close()
			return nil, err
		}
		if err := poller.RegisterBackend(ch.ID, backend); err != nil {
			_ = persister.Close()
			return nil, err
		}
	}

	runner := scheduler.New(rt, logger.Named("scheduler"))
	if err := runner.Register(settings.JobDailySummary, scheduler.DailyAt{Hour: 9},
		scheduler.DailySummary(st, ollama, logger)); err != nil {
		_ = persister.Close()
		return nil, err
	}
	if err := runner.Register(settings.JobMemoryCleanup, scheduler.WeeklyAt{Weekday: time.Sunday, Hour: 3},
		scheduler.MemoryCleanup(st, memoryMaxAge)); err != nil {
		_ = persister.Close()
		return nil, err
	}

	h := api.NewHandler(st, rt, poller, ollama, proc, logger.Named("api"))
	server := api.NewServer(cfg.Gateway.Addr(), api.NewRouter(h, logger.Named("http")))

	return &App{
		cfg:       cfg,
		logger:    logger,
		persister: persister,
		store:     st,
		runtime:   rt,
		ollama:    ollama,
		poller:    poller,
		scheduler: runner,
		server:    server,
	}, nil
}

// Handler returns the control API handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Store returns the state store.
func (a *App) Store() *store.Store {
	return a.store
}

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve starts the poll loops and the scheduler, serves the control API on
// ln and blocks until ctx is cancelled. On shutdown each channel finishes
// the item it is processing, bounded by the configured grace period.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	grace := time.Duration(a.cfg.Gateway.ShutdownGraceSec) * time.Second
	if grace <= 0 {
		grace = 30 * time.Second
	}

	if status := a.ollama.Check(ctx); status != ai.StatusRunning {
		a.logger.Warn("inference backend not reachable, replies will use the fallback text",
			zap.String("status", status), zap.String("model", a.ollama.Model()))
	}

	a.logger.Info("gateway starting",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("dry_run", a.runtime.DryRun()),
		zap.Int("channels", len(a.cfg.Channels)))

	g, gctx := errgroup.WithContext(ctx)

	a.poller.Start(gctx)

	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving control API: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down", zap.Duration("grace", grace))

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), grace)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("control API shutdown", zap.Error(err))
		}
		if err := a.poller.Wait(grace); err != nil {
			a.logger.Warn("poll loops still running after grace period", zap.Error(err))
		}
		return nil
	})

	err := g.Wait()
	a.logger.Info("gateway stopped")
	return err
}

// Close releases the database connection.
func (a *App) Close() error {
	return a.persister.Close()
}
