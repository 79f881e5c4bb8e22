// Command caretaker is a container entry point: it starts the serving
// process, keeps scheduled jobs firing next to it, and turns every
// failure mode into a distinct exit code.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"caretaker/internal/admin"
	"caretaker/internal/config"
	"caretaker/internal/core"
	"caretaker/internal/eventbus"
	"caretaker/internal/history"
	"caretaker/internal/jobrunner"
	"caretaker/internal/runtime/supervisor"
	"caretaker/internal/schedule"
	"caretaker/internal/scheduler"
	"caretaker/internal/serving"
	logx "caretaker/pkg/logx"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("caretaker", flag.ContinueOnError)
	configPath := fs.String("config", "caretaker.yaml", "path to the configuration file")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return core.ExitConfig
	}
	if *showVersion {
		fmt.Println("caretaker", version)
		return core.ExitOK
	}

	// Bootstrap logger until the configured sinks are up.
	boot := logx.NewConsole("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Error("load config", logx.String("path", *configPath), logx.Err(err))
		return core.ExitConfig
	}
	settings, err := cfg.Resolve()
	if err != nil {
		boot.Error("invalid config", logx.String("path", *configPath), logx.Err(err))
		return core.ExitConfig
	}

	logSvc, log := logx.New(settings.Log)
	defer logSvc.Close()
	log.Info("caretaker starting",
		logx.String("version", version),
		logx.String("config", *configPath),
		logx.String("schedule", settings.ScheduleSource))

	loadOpts := schedule.LoadOptions{
		DefaultTimeout: settings.JobTimeoutDefault,
		Location:       settings.Location,
	}
	rawSchedule, err := os.ReadFile(settings.ScheduleSource)
	if err != nil {
		log.Error("read schedule", logx.String("path", settings.ScheduleSource), logx.Err(err))
		return core.ExitConfig
	}
	store, err := schedule.Parse(settings.ScheduleSource, rawSchedule, loadOpts)
	if err != nil {
		log.Error("invalid schedule", logx.String("path", settings.ScheduleSource), logx.Err(err))
		return core.ExitConfig
	}

	journal, err := history.OpenJournal(settings.History, log)
	if err != nil {
		log.Error("open run journal", logx.Err(err))
		return core.ExitConfig
	}
	hist := history.New(settings.History.Size, journal, log)
	defer hist.Close()

	bus := eventbus.New()
	runner := jobrunner.New(settings.KillGrace, log)
	sched := scheduler.New(store, runner.Run, hist, bus, log)

	watcher := schedule.NewWatcher(settings.ScheduleSource, loadOpts, log, sched.SetStore)
	watcher.Prime(rawSchedule)

	proc := serving.New(serving.Config{
		Command:         settings.ServingCommand,
		BindAddress:     settings.BindAddress,
		WorkDir:         settings.ServingWorkDir,
		ReadyInterval:   settings.ReadyInterval,
		StartupDeadline: settings.StartupDeadline,
		KillGrace:       settings.KillGrace,
	}, log)

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigs)

	relay := make(chan os.Signal, 4)
	signal.Notify(relay, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(relay)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := core.New(proc, sched, core.Options{
		ShutdownDeadline: settings.ShutdownDeadline,
		Signals:          sigs,
		OnReady: func() {
			_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
		},
		Bus: bus,
		Log: log,
	})

	// Auxiliary goroutines: schedule hot reload, signal forwarding, admin
	// surface, sd_notify plumbing. None of them may take the unit down.
	aux := supervisor.New(ctx, supervisor.WithLogger(log))
	aux.Go("schedule-watcher", watcher.Run)
	aux.Go0("signal-relay", func(ctx context.Context) {
		// Non-termination signals belong to the child, not to us.
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-relay:
				log.Debug("forwarding signal to serving child", logx.String("signal", sig.String()))
				proc.Signal(sig)
			}
		}
	})
	if settings.Admin.Enabled {
		adm := admin.New(admin.Config{
			Addr:  settings.Admin.Addr,
			RPS:   settings.Admin.RatePerSec,
			Burst: settings.Admin.Burst,
		}, sup, sched, hist, log, admin.WithGoroutines(aux))
		aux.GoRestart("admin", adm.Run,
			supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	}
	aux.Go0("sd-notify", func(ctx context.Context) {
		notifyLoop(ctx, bus, sup)
	})

	code := sup.Run(ctx)

	cancel()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	_ = aux.Wait(waitCtx)

	log.Info("caretaker exiting", logx.Int("code", code))
	return code
}

// notifyLoop forwards lifecycle changes to systemd when running under it
// and feeds the watchdog while the unit is healthy. A no-op elsewhere.
func notifyLoop(ctx context.Context, bus eventbus.Bus, sup *core.Supervisor) {
	events, unsub := bus.Subscribe(16)
	defer unsub()

	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		interval = 0
	}
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval / 2)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == eventbus.KindStateChange && ev.Data == core.StateDraining.String() {
				_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			}
		case <-tick:
			if sup.Healthy() {
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}
}
