package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"daycal/internal/collect"
	"daycal/internal/config"
	"daycal/internal/feed"
	"daycal/internal/sched"
	"daycal/internal/store"
	"daycal/internal/web"

	appLog "daycal/internal/log"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	verbose    bool
}

func main() {
	appLog.Info("daycal starting", "version", "0.1.0")

	flags := parseFlags()
	if flags.verbose {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"cache_dir", conf.CacheDir,
		"source_base", conf.SourceBase,
		"refresh_cron", conf.RefreshCron,
		"refresh_interval_hours", conf.RefreshIntervalHours,
		"auto_refresh", conf.AutoRefreshEnabled(),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	// Wire the pipeline: store -> feed -> scheduler.
	st := store.New(conf.CacheDir)

	initial, err := st.Load()
	if err != nil {
		// A broken cache means starting cold, never failing startup.
		appLog.Error("cached snapshot unreadable, starting empty", err, "cache_dir", conf.CacheDir)
	}

	f := feed.New(st, initial)
	collector := collect.NewHTTPCollector(conf.SourceBase)
	scheduler := sched.New(collector, st, f, sched.Options{
		Interval:       conf.RefreshInterval(),
		CollectTimeout: conf.CollectTimeout(),
		AutoRefresh:    conf.AutoRefreshEnabled(),
	})

	if flags.once {
		runOnce(ctx, scheduler, f)
		return
	}

	// Periodic trigger: the cron fires non-forced fetches; due-ness and
	// single-flight are the scheduler's business, not the cron's.
	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		scheduler.Fetch(ctx, false)
	}); err != nil {
		appLog.Error("invalid refresh cron expression", err, "cron", conf.RefreshCron)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	// Kick a startup refresh; a fresh cache makes this a no-op.
	scheduler.Fetch(ctx, false)

	srv := web.NewServer(conf, f, scheduler)
	if err := srv.Run(ctx); err != nil {
		appLog.Error("HTTP server failed", err)
		os.Exit(1)
	}

	appLog.Info("daycal exiting")
}

// runOnce performs a single forced refresh, waits for its commit through
// the feed, and exits.
func runOnce(ctx context.Context, scheduler *sched.Scheduler, f *feed.Feed) {
	updates, unsubscribe := f.Subscribe()
	defer unsubscribe()

	// First delivery is the replay of the current state.
	<-updates

	if !scheduler.Fetch(ctx, true) {
		appLog.Info("refresh not started")
		return
	}

	select {
	case snap := <-updates:
		appLog.Info("refresh committed", "categories", len(snap))
	case <-ctx.Done():
		appLog.Info("interrupted before refresh completed")
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/daycal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one forced refresh and exit")
	flag.BoolVar(&cfg.verbose, "verbose", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
