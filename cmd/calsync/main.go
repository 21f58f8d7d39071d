package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"calsync/internal/config"
	"calsync/internal/engine"
	appLog "calsync/internal/log"
)

type flagConfig struct {
	configPath string
	once       bool
	target     string
}

func main() {
	appLog.Info("calsync starting", "version", "0.1.0-dev")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"cooldown_minutes", conf.CooldownMinutes,
		"horizon_days", conf.HorizonDays,
		"feed_count", len(conf.Feeds),
		"page_count", len(conf.Pages),
		"text_target_count", len(conf.TextTargets),
		"google_target_count", len(conf.GoogleTargets),
		"once", flags.once,
	)

	eng, err := engine.New(conf)
	if err != nil {
		appLog.Error("failed to build engine", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.once {
		if flags.target != "" {
			if err := eng.SyncOne(ctx, flags.target); err != nil {
				appLog.Error("sync failed", err, "target", flags.target)
				os.Exit(1)
			}
		} else {
			eng.SyncAll(ctx, true)
		}
		appLog.Info("calsync exiting")
		return
	}

	// A slow sync must never overlap the next tick.
	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
	if _, err := sched.AddFunc(conf.RefreshCron, func() {
		eng.SyncAll(ctx, false)
	}); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()

	// First run immediately rather than waiting for the first tick.
	eng.SyncAll(ctx, false)

	<-ctx.Done()

	stopCtx := sched.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		appLog.Warn("scheduler stop timed out")
	}
	appLog.Info("calsync exiting")
}

// cronLogger adapts the scheduler's logging to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("scheduler: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("scheduler: "+msg, err, kv...)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calsync/config.yaml", "Path to config file")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync cycle and exit")
	flag.StringVar(&cfg.target, "target", "", "Sync only this target ID (with -once)")

	flag.Parse()

	return cfg
}
