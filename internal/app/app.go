package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/observability/admin"
	"relaybot/internal/observability/tracing"
	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	telegram "relaybot/internal/transport/telegram/adapter"
	"relaybot/internal/transport/telegram/router"
	"relaybot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor
	sups *supervisor.Registry

	log    logx.Logger
	logs   *logx.Service
	bus    *eventbus.MemBus
	counts *eventbus.Counter
	store  storage.Store
	traces *tracing.Provider

	registry *relay.Registry
	queue    *relay.FailureQueue
	engine   *relay.Engine
	retry    *relay.RetryScheduler

	adapter *telegram.Adapter
	cmdm    *router.CommandManager
	admin   *admin.Service

	updates chan kit.Update
	started time.Time
}

// NewApp loads the config and builds every component. Nothing runs until
// Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath,
		config.AllowMissingFile(),
		config.WithValidator(func(_ context.Context, c *config.Config) error {
			_, err := mapAdminConfig(c)
			return err
		}),
	)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	adminCfg, err := mapAdminConfig(cfg)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLogConfig(cfg))
	a := &App{
		cfgm:    cfgm,
		sups:    supervisor.NewRegistry(),
		log:     log,
		logs:    logs,
		bus:     eventbus.New(),
		counts:  eventbus.NewCounter(),
		queue:   relay.NewFailureQueue(),
		updates: make(chan kit.Update, 256),
		started: time.Now(),
	}
	ok := false
	defer func() {
		if !ok {
			a.closeEarly()
		}
	}()

	ctx := context.Background()
	a.traces, err = tracing.Setup(ctx, mapTracingConfig(cfg), log)
	if err != nil {
		return nil, err
	}

	a.store, err = storage.Open(ctx, mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open registry store: %w", err)
	}
	a.registry = relay.NewRegistry(a.store, log,
		relay.WithRegistryEvents(a.bus),
		relay.WithCorruptPolicy(relay.CorruptPolicy(cfg.Registry.OnCorrupt)),
	)
	if err := a.registry.Load(ctx); err != nil {
		return nil, err
	}

	a.adapter, err = telegram.New(mapAdapterConfig(cfg), log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logs.SetSender(func(ctx context.Context, chatID int64, text string) error {
		return a.adapter.SendText(ctx, chatID, text, &kit.SendOptions{DisablePreview: true})
	})

	sources := cfg.Relay.SourceChatIDs
	a.engine = relay.NewEngine(a.registry, a.queue, a.adapter, mapEngineConfig(cfg), log, a.bus)
	a.retry = relay.NewRetryScheduler(a.registry, a.queue, a.adapter, mapRetryConfig(cfg), log, a.bus)
	deps := router.Deps{
		Registry: a.registry,
		Queue:    a.queue,
		Engine:   a.engine,
		Tracker:  relay.NewTracker(a.registry, a.queue, log),
		Gate:     relay.NewGate(router.Rules(sources), log, a.bus),
		Sources:  sources,
		Prefix:   cfg.Relay.CommandPrefix,
		Version:  cfg.Relay.Version,
	}
	a.cmdm = router.NewCommandManager(log, a.adapter, deps)
	a.cmdm.SetCommands(router.Builtins(deps))

	a.admin = admin.New(adminCfg, admin.Source{
		Version:     cfg.Relay.Version,
		StartedAt:   a.started,
		Registry:    a.registry,
		Queue:       a.queue,
		Retry:       a.retry,
		Events:      a.counts,
		Supervisors: a.sups,
		Breaker:     a.adapter.BreakerState,
	}, log)

	a.sups.Set("telegram.adapter", a.adapter.Supervisor)
	a.sups.Set("telegram.router", a.cmdm.Supervisor)
	a.sups.Set("admin", a.admin.Supervisor)

	a.log.Info("app initialized",
		logx.String("version", cfg.Relay.Version),
		logx.String("environment", cfg.Relay.Environment),
		logx.String("registry_driver", cfg.Registry.Driver),
		logx.Int("destinations", a.registry.Len()),
		logx.Int("sources", len(sources)),
	)
	ok = true
	return a, nil
}

func (a *App) closeEarly() {
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.traces != nil {
		_ = a.traces.Shutdown(context.Background())
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// Done is closed when the app context ends, either by Stop or by a fatal
// supervised error.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		return nil
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.sups.Set("app", func() *supervisor.Supervisor { return a.sup })
	c := a.sup.Context()

	events, unsub := a.bus.Subscribe(256)
	a.sup.Go0("eventbus.count", func(ctx context.Context) {
		defer unsub()
		a.counts.Run(ctx, events)
	})

	if err := a.adapter.Start(c, a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(ctx context.Context) error {
		return a.cmdm.DispatchLoop(ctx, a.updates)
	})
	if err := a.retry.Start(c); err != nil {
		return fmt.Errorf("start retry scheduler: %w", err)
	}
	a.admin.Start(c)

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(ctx context.Context) {
		last := a.cfgm.Get()
		for {
			select {
			case <-ctx.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(ctx, last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", func(ctx context.Context) error {
		return a.cfgm.Watch(ctx)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes the live-reloadable settings to running components.
// Sections that are read once at startup only produce a warning.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)...)
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed in sections read at startup; restart required",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}

	a.logs.Apply(mapLogConfig(next))
	a.engine.Apply(mapEngineConfig(next))
	a.retry.Apply(mapRetryConfig(next))
	if ac, err := mapAdminConfig(next); err != nil {
		a.log.Warn("invalid admin config; keeping previous", logx.Err(err))
	} else {
		a.admin.Reconfigure(ctx, ac)
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Time: time.Now(), Data: ch.Sections})
	a.log.Info("config reloaded", logx.String("changed", strings.Join(ch.Sections, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeEarly()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		if err := runStep(ctx, a.log, name, limit, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("admin", time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	step("retry", 2*time.Second, a.retry.Stop)
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("config", 100*time.Millisecond, func(context.Context) error { a.cfgm.Close(); return nil })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("tracing", 2*time.Second, a.traces.Shutdown)

	a.log.Info("stopped", logx.Int("pending_dropped", a.queue.Len()))
	_ = a.logs.Close()
	return errors.Join(errs...)
}

// runStep runs one shutdown step with an upper bound so one component can't
// stall the whole stop. It never extends the caller's deadline. A step that
// overruns keeps running in the background and is logged when it finishes.
func runStep(ctx context.Context, log logx.Logger, name string, limit time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = rem
		}
	}
	if limit <= 0 {
		log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return context.DeadlineExceeded
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		} else {
			err = nil
		}
		log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		return err
	case <-stepCtx.Done():
		log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			log.Info("stop step finished after deadline",
				logx.String("name", name),
				logx.Duration("took", time.Since(start)),
				logx.Err(err),
			)
		}()
		return stepCtx.Err()
	}
}
