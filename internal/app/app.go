// Package app assembles the daemon: config, logging, transports, storage,
// the poll loop and the command dispatcher.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"pkgwatch/internal/catalog"
	"pkgwatch/internal/command"
	"pkgwatch/internal/config"
	"pkgwatch/internal/notify"
	"pkgwatch/internal/registry"
	"pkgwatch/internal/runtime/supervisor"
	"pkgwatch/internal/storage"
	"pkgwatch/internal/transport"
	"pkgwatch/internal/transport/discord"
	"pkgwatch/internal/transport/telegram"
	"pkgwatch/internal/watch"
	logx "pkgwatch/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store storage.Store
	set   *transport.Set

	reg   *registry.Registry
	exec  *notify.Executor
	watch *watch.Service
	disp  *command.Dispatcher

	updates chan transport.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	// Transport adapters
	set := transport.NewSet()
	for _, acc := range cfg.Telegram {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", acc.PollTimeout, 10*time.Second)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{
			Account:     acc.Account,
			Token:       acc.Token,
			PollTimeout: pollTimeout,
			TrustedIDs:  acc.TrustedUserIDs,
		}, log.With(logx.String("comp", "telegram"), logx.String("account", acc.Account)))
		if err != nil {
			return nil, fmt.Errorf("telegram account %q: %w", acc.Account, err)
		}
		set.Register(ad)
	}
	for _, acc := range cfg.Discord {
		ad, err := discord.New(discord.Config{
			Account:    acc.Account,
			Token:      acc.Token,
			TrustedIDs: acc.TrustedUserIDs,
		}, log.With(logx.String("comp", "discord"), logx.String("account", acc.Account)))
		if err != nil {
			return nil, fmt.Errorf("discord account %q: %w", acc.Account, err)
		}
		set.Register(ad)
	}
	if len(set.All()) == 0 {
		return nil, fmt.Errorf("no transport accounts configured")
	}

	builder := catalog.NewBuilder(log.With(logx.String("comp", "catalog")))
	reg := registry.New(cfgm, log.With(logx.String("comp", "registry")))

	exec := notify.NewExecutor(set, log.With(logx.String("comp", "notify")))
	if store != nil {
		st := store
		exec.OnFailure(func(target, reason string) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.AppendDeliveryFailure(ctx, storage.DeliveryFailure{
				At:     time.Now(),
				Target: target,
				Reason: reason,
			}); err != nil {
				log.Warn("delivery failure log write failed", logx.Err(err))
			}
		})
	}

	watchSvc := watch.New(cfgm, reg, builder, exec, store, log.With(logx.String("comp", "watch")))

	disp := command.NewDispatcher(set, log.With(logx.String("comp", "commands")))
	disp.Register(watch.NewCommander(watchSvc, reg, store, log.With(logx.String("comp", "commands"))).Commands()...)
	disp.Register(helpCommand(disp))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		store:   store,
		set:     set,
		reg:     reg,
		exec:    exec,
		watch:   watchSvc,
		disp:    disp,
		updates: make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the run context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
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

	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	if err := a.set.StartAll(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.watch.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.disp.DispatchLoop(c, a.updates)
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// systemd readiness + watchdog (no-op outside systemd)
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if ok {
		a.startWatchdog()
	}

	a.log.Info("app started")
	return nil
}

func (a *App) applyReload(cfg *config.Config) {
	a.logs.Apply(mapLoggingConfig(cfg))

	interval, err := config.ParseDurationOrDefault("catalog.poll_interval", cfg.Catalog.PollInterval, time.Minute)
	if err == nil {
		if err := a.watch.Reschedule(interval); err != nil {
			a.log.Warn("poll reschedule failed", logx.Err(err))
		}
	}

	// Transports and storage bind at startup.
	a.log.Info("config reloaded")
}

func (a *App) startWatchdog() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	a.sup.Cancel()

	// Each step gets an upper bound so one component can't stall the stop.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(stepCtx)
		}()
		select {
		case <-done:
		case <-stepCtx.Done():
			a.log.Warn("stop step timed out", logx.String("step", name))
		}
	}

	step("watch", 5*time.Second, func(c context.Context) { a.watch.Stop(c) })
	step("transports", 5*time.Second, func(c context.Context) { a.set.StopAll(c) })
	step("supervisor", 5*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	a.log.Info("stopped")
	return a.logs.Close()
}

// ---- config mapping + validation ----

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg.Storage == nil || strings.TrimSpace(cfg.Storage.Driver) == "" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, true, nil
}

func validateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Catalog.Endpoint) == "" {
		return fmt.Errorf("catalog.endpoint must be set")
	}
	if _, err := config.ParseDurationField("catalog.poll_interval", cfg.Catalog.PollInterval); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("catalog.fetch_timeout", cfg.Catalog.FetchTimeout); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("notify.throttle", cfg.Notify.Throttle); err != nil {
		return err
	}
	for _, acc := range cfg.Telegram {
		if _, err := config.ParseDurationField("telegram.poll_timeout", acc.PollTimeout); err != nil {
			return err
		}
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	for i, r := range cfg.Receivers {
		if r.Platform == "" || r.Account == "" || r.Channel == "" {
			return fmt.Errorf("receivers[%d]: platform, account and channel must be set", i)
		}
	}
	return nil
}

// ---- help ----

func helpCommand(d *command.Dispatcher) command.Command {
	return command.Command{
		Route:       "help",
		Description: "List available commands",
		Handle: func(ctx context.Context, req *command.Request) error {
			var b strings.Builder
			b.WriteString("Commands:")
			for _, c := range d.Commands() {
				route := c.Route
				if c.Usage != "" {
					route = c.Usage
				}
				fmt.Fprintf(&b, "\n%s", route)
				if c.Description != "" {
					fmt.Fprintf(&b, " - %s", c.Description)
				}
			}
			return req.Reply(ctx, b.String())
		},
	}
}
