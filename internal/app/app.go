package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"healthtimer/internal/alarm"
	"healthtimer/internal/bot"
	"healthtimer/internal/catalog"
	"healthtimer/internal/config"
	"healthtimer/internal/eventbus"
	"healthtimer/internal/notifier"
	"healthtimer/internal/reminder"
	rtsup "healthtimer/internal/runtime/supervisor"
	"healthtimer/internal/state"
	"healthtimer/internal/storage"
	"healthtimer/internal/transport"
	telegram "healthtimer/internal/transport/telegram/adapter"
	logx "healthtimer/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopUserQuit   StopReason = "user_quit"
)

// EventStatus carries a reminder.Status snapshot from the status.refresh job.
const EventStatus = "reminder.status"

const (
	jobStatusRefresh = "status.refresh"
	jobReconcile     = "reminder.reconcile"
)

// Options tune how the app is assembled for a given front end.
type Options struct {
	// Alerts receives every fired reminder. Sends never block; a busy
	// receiver misses alerts, not reminders.
	Alerts chan<- reminder.Alert
	// Quiet keeps logs off the terminal (the TUI owns it).
	Quiet bool
	// Offline skips the Telegram bot, for one-shot CLI commands.
	Offline bool
	Now     func() time.Time
}

type App struct {
	cfgm *config.Manager
	opt  Options
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	alarm   *alarm.Service
	coord   *reminder.Coordinator
	notif   *notifier.Service
	adapter *telegram.Adapter
	router  *bot.Router
	sd      sdNotifier

	updates chan transport.Update
}

// New loads the config behind cfgm and assembles every component. Nothing
// runs until Start.
func New(cfgm *config.Manager, opt Options) (*App, error) {
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	settings, err := reminderSettings(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc.Path = resolvePath(cfgm.Path(), sc.Path)
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Telegram logging starts disabled: the adapter that carries it is
	// built below, and the final Apply turns it on.
	baseLogCfg := mapLogConfig(cfg, opt.Quiet)
	baseLogCfg.File.Path = resolvePath(cfgm.Path(), baseLogCfg.File.Path)
	finalLogCfg := baseLogCfg
	baseLogCfg.Telegram.Enabled = false
	logSvc, root := logx.New(baseLogCfg)
	log := root.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", driverName(sc.Driver)))

	cat := catalog.New(catalog.DefaultItems(), cfg.Reminders.IntervalMinutes())
	alarmSvc := alarm.New(mapAlarmConfig(cfg), root.With(logx.String("comp", "alarm")), bus)
	coord := reminder.NewCoordinator(state.New(store, cat), alarmSvc, bus, root.With(logx.String("comp", "reminder")), settings)

	var ad *telegram.Adapter
	var send transport.Sender
	if !opt.Offline && strings.TrimSpace(cfg.Telegram.Token) != "" {
		pt, err := mapPollTimeout(cfg)
		if err != nil {
			_ = store.Close()
			logSvc.Close()
			return nil, err
		}
		ad, err = telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pt}, root)
		if err != nil {
			_ = store.Close()
			logSvc.Close()
			return nil, err
		}
		send = ad
	}

	notifLog := root.With(logx.String("comp", "notifier"))
	notifSvc := notifier.New(ncfg, buildChannel(cfg, send, notifLog), notifLog, bus)

	a := &App{
		cfgm:    cfgm,
		opt:     opt,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		alarm:   alarmSvc,
		coord:   coord,
		notif:   notifSvc,
		adapter: ad,
		sd: sdNotifier{
			enabled:  cfg.Systemd.Notify,
			watchdog: cfg.Systemd.Watchdog,
			log:      root.With(logx.String("comp", "systemd")),
		},
		updates: make(chan transport.Update, 256),
	}

	if ad != nil {
		a.router = bot.New(bot.Options{
			Sender:     ad,
			Controller: coord,
			Tester:     notifSvc,
			Log:        root.With(logx.String("comp", "bot")),
			Owners:     cfg.Telegram.OwnerUserIDs,
			Now:        opt.Now,
		})
		logSvc.SetTelegram(a.logSender(), cfg.Telegram.ChatID, cfg.Logging.Telegram.ThreadID)
	} else if finalLogCfg.Telegram.Enabled {
		log.Warn("logging.telegram enabled but no bot is running; telegram log sink disabled")
		finalLogCfg.Telegram.Enabled = false
	}
	logSvc.Apply(finalLogCfg)
	return a, nil
}

func driverName(d string) string {
	if d == "" {
		return "memory"
	}
	return d
}

func (a *App) Coordinator() *reminder.Coordinator { return a.coord }
func (a *App) Notifier() *notifier.Service        { return a.notif }
func (a *App) Logger() logx.Logger                { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
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

func (a *App) logSender() logx.Sender {
	return func(ctx context.Context, chatID int64, threadID int, text string) error {
		_, err := a.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID, ThreadID: threadID}, text,
			&transport.SendOptions{DisablePreview: true})
		return err
	}
}

func (a *App) validate(_ context.Context, cfg *config.Config) error {
	if _, err := reminderSettings(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	_, err := mapPollTimeout(cfg)
	return err
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validate)

	cfg := a.cfgm.Get()
	a.alarm.OnFire(a.onFire)
	if err := a.registerJobs(cfg); err != nil {
		return err
	}
	a.notif.Start(a.sup.Context())
	a.alarm.Start(a.sup.Context())

	// Restore the schedule. A reminder that came due while the process was
	// down is not replayed; the next one is computed from now.
	startCtx := reminder.WithActor(a.sup.Context(), reminder.Actor{Source: "app"})
	if armed, ok, err := a.coord.ScheduleNext(startCtx, a.opt.Now()); err != nil {
		a.log.Warn("initial schedule failed; reconcile will retry", logx.Err(err))
	} else if ok {
		a.log.Info("next reminder", logx.String("item", armed.ItemID), logx.Time("fire_at", armed.FireAt))
	} else {
		a.log.Info("no reminder scheduled")
	}

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go("bot.dispatch", func(c context.Context) error {
			return a.router.Run(c, a.updates)
		})
		a.sup.Go("bot.menu", func(c context.Context) error {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := a.adapter.UpdateMenuCommands(mctx, a.router.MenuCommands()); err != nil {
				a.log.Warn("command menu update failed", logx.Err(err))
			}
			return nil
		})
	}

	// Optional: log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sd.ready()
	if every := a.sd.watchdogInterval(); every > 0 {
		a.log.Info("systemd watchdog enabled", logx.Duration("every", every))
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			return a.sd.runWatchdog(c, every, func() bool { return a.sup.Err() == nil })
		})
	}

	a.log.Info("app started")
	return nil
}

// registerJobs (re)installs the periodic jobs. AddJob upserts by name, so
// a reload with new intervals replaces the old entries.
func (a *App) registerJobs(cfg *config.Config) error {
	d, err := cfg.Reminders.Durations()
	if err != nil {
		return err
	}
	if err := a.alarm.AddJob(jobStatusRefresh, d.StatusRefresh.String(), a.refreshStatus); err != nil {
		return fmt.Errorf("%s: %w", jobStatusRefresh, err)
	}
	if err := a.alarm.AddJob(jobReconcile, d.Reconcile.String(), a.reconcile); err != nil {
		return fmt.Errorf("%s: %w", jobReconcile, err)
	}
	return nil
}

// onFire is the delivery callback: record the firing, arm the next
// reminder, then hand the alert to the notifier and any screen.
func (a *App) onFire(ctx context.Context, _ reminder.Alert) {
	ctx = reminder.WithActor(ctx, reminder.Actor{Source: "alarm"})
	fired, ok, err := a.coord.HandleAlarm(ctx, a.opt.Now())
	if err != nil {
		a.log.Warn("reminder fire handling failed", logx.Err(err))
	}
	if !ok {
		return
	}
	if err := a.notif.Notify(ctx, notifier.FromAlert(fired)); err != nil && !errors.Is(err, notifier.ErrDisabled) {
		a.log.Warn("reminder notify failed", logx.String("item", fired.ItemID), logx.Err(err))
	}
	if a.opt.Alerts != nil {
		select {
		case a.opt.Alerts <- fired:
		default:
			a.log.Debug("alert dropped; screen busy", logx.String("item", fired.ItemID))
		}
	}
}

func (a *App) refreshStatus(ctx context.Context) error {
	now := a.opt.Now()
	st, ok, err := a.coord.Status(ctx, now)
	if err != nil {
		return err
	}
	if ok {
		a.bus.Publish(eventbus.Event{Type: EventStatus, Time: now, Data: st})
	}
	return nil
}

func (a *App) reconcile(ctx context.Context) error {
	ctx = reminder.WithActor(ctx, reminder.Actor{Source: "reconcile"})
	repaired, err := a.coord.Reconcile(ctx, a.opt.Now())
	if err != nil {
		return err
	}
	if repaired {
		a.log.Info("schedule repaired")
	}
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if oldCfg.Reminders.IntervalMinutes() != newCfg.Reminders.IntervalMinutes() {
		restart = append(restart, "reminders.default_interval_minutes")
	}
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("sections", restart))
	}

	logCfg := mapLogConfig(newCfg, a.opt.Quiet)
	logCfg.File.Path = resolvePath(a.cfgm.Path(), logCfg.File.Path)
	if a.adapter != nil {
		a.logs.SetTelegram(a.logSender(), newCfg.Telegram.ChatID, newCfg.Logging.Telegram.ThreadID)
	} else {
		logCfg.Telegram.Enabled = false
	}
	a.logs.Apply(logCfg)

	if a.router != nil {
		a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		var send transport.Sender
		if a.adapter != nil {
			send = a.adapter
		}
		a.notif.Apply(ncfg)
		a.notif.SetChannel(buildChannel(newCfg, send, a.log.With(logx.String("comp", "notifier"))))
		switch {
		case wasEnabled && !ncfg.Enabled:
			a.log.Info("notifier disabled via config")
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.log.Info("notifier enabled via config")
			a.notif.Start(ctx)
		}
	}

	if settings, err := reminderSettings(newCfg); err != nil {
		a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
	} else {
		a.alarm.Apply(mapAlarmConfig(newCfg))
		if err := a.registerJobs(newCfg); err != nil {
			a.log.Warn("job reschedule failed", logx.Err(err))
		}
		a.coord.Apply(settings)
		// the active window may have moved under the armed reminder
		rctx := reminder.WithActor(ctx, reminder.Actor{Source: "config"})
		if _, _, err := a.coord.ScheduleNext(rctx, a.opt.Now()); err != nil {
			a.log.Warn("reschedule after reload failed", logx.Err(err))
		}
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sd.stopping()

	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, max(time.Until(dl), 0))
			}
			if limit > 0 {
				var cancel context.CancelFunc
				stepCtx, cancel = context.WithTimeout(ctx, limit)
				defer cancel()
			}
		}

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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)))
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", time.Since(start)))
				}
			}()
		}
	}

	// The armed reminder stays in storage; only the runtime timer stops.
	step("alarm", 2*time.Second, func(c context.Context) error { a.alarm.Stop(c); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.adapter != nil {
		step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	}
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// close releases resources of an app that was never started.
func (a *App) close() error {
	err := a.store.Close()
	if cerr := a.logs.Close(); err == nil {
		err = cerr
	}
	return err
}
