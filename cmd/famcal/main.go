package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"famcal/internal/aggregate"
	"famcal/internal/classify"
	"famcal/internal/config"
	appLog "famcal/internal/log"
	"famcal/internal/store"
	"famcal/internal/store/memory"
	"famcal/internal/store/sqlite"
	"famcal/internal/syncer"
	"famcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	ephemeral  bool
	logLevel   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	level := conf.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	appLog.Info("famcal starting",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"sources", len(conf.Sources),
		"sync_enabled", conf.Remote.BaseURL != "",
		"once", flags.once,
	)

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone, falling back to local", err, "timezone", conf.Timezone)
		loc = time.Local
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

	st, err := buildStore(flags, conf)
	if err != nil {
		appLog.Error("failed to create store", err)
		os.Exit(1)
	}
	if err := st.Init(ctx); err != nil {
		appLog.Error("failed to initialize store", err)
		os.Exit(1)
	}
	defer st.Close()

	rules := classify.NewRules(conf.Classifier)
	workflow := classify.NewWorkflow(st)
	agg := aggregate.New(conf, st, rules, filepath.Join(conf.DataDir, "feed-cache"))

	var sync *syncer.Syncer
	if conf.Remote.BaseURL != "" && conf.Remote.CalendarID != "" {
		remote := syncer.NewHTTPRemote(conf.Remote.BaseURL, conf.Remote.Token)
		sync = syncer.New(st, remote, conf.Remote.CalendarID, conf.Pace())
	}

	runPass := func(ctx context.Context) {
		if _, err := agg.Pass(ctx); err != nil {
			appLog.Error("aggregation pass failed", err)
			return
		}
		if sync == nil {
			return
		}
		if _, err := sync.SyncPass(ctx); err != nil {
			appLog.Error("sync pass failed", err)
			return
		}
		now := time.Now().In(loc)
		from := now.AddDate(0, 0, -conf.BackfillDays)
		to := now.AddDate(0, 0, conf.HorizonDays)
		if _, err := sync.ReconcileWindow(ctx, from, to); err != nil {
			appLog.Error("reconcile failed", err)
		}
	}

	if flags.once {
		runPass(ctx)
		appLog.Info("single pass done, exiting")
		return
	}

	sched := cron.New()
	if _, err := sched.AddFunc(conf.RefreshCron, func() { runPass(ctx) }); err != nil {
		appLog.Error("invalid refresh cron expression", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	// One pass up front so the API serves fresh data immediately.
	go runPass(ctx)

	server := web.NewServer(conf, st, workflow, agg, loc)
	httpServer := &http.Server{
		Addr:    conf.Listen,
		Handler: server.Handler(),
	}

	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	appLog.Info("famcal exiting")
}

func buildStore(flags flagConfig, conf *config.Config) (store.Store, error) {
	if flags.ephemeral {
		return memory.New(), nil
	}
	return sqlite.New(conf.DataDir)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/famcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one aggregation+sync pass and exit")
	flag.BoolVar(&cfg.ephemeral, "ephemeral", false, "Use the in-memory store (state lost on exit)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, error (overrides config)")

	flag.Parse()

	return cfg
}
