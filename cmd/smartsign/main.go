package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"smartsign/internal/capture"
	"smartsign/internal/config"
	"smartsign/internal/history"
	appLog "smartsign/internal/log"
	"smartsign/internal/model"
	"smartsign/internal/runner"
	"smartsign/internal/source"
	"smartsign/internal/web"
)

const version = "0.3.0"

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	file       string
	logLevel   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI flags override the config file.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("smartsign starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"locale", conf.Locale,
		"week_policy", conf.WeekPolicy,
		"rollover", conf.RolloverToNextWeek,
		"refresh", conf.RefreshCron,
		"snapshot_path", conf.SnapshotPath,
		"source_url_set", conf.SourceURL != "",
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hist, err := history.Open(conf.HistoryPath)
	if err != nil {
		// History is informational; batches still run without it.
		appLog.Error("failed to open run history", err, "path", conf.HistoryPath)
		hist = nil
	}
	defer hist.Close()

	store := source.NewStore(conf.DataDir)
	deps := runner.Deps{Store: store, History: hist, Capturer: capture.Chromium{}}
	if conf.SourceURL != "" {
		deps.Fetcher = source.NewFetcher(store, conf.SourceURL, int64(conf.MaxUploadMB)<<20)
	}

	run, err := runner.New(conf, deps)
	if err != nil {
		appLog.Error("failed to initialize runner", err)
		os.Exit(1)
	}

	if flags.once {
		code := runOnce(ctx, run, flags.file)
		hist.Close()
		os.Exit(code)
	}

	sched, err := startScheduler(ctx, run, conf.RefreshCron)
	if err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}

	// Re-filter once at startup so a restart after midnight does not leave a
	// stale window on screen until the next tick.
	go func() {
		if _, err := run.Run(ctx, runner.TriggerSchedule, time.Now()); err != nil {
			appLog.Error("startup batch failed", err)
		}
	}()

	var lister web.RunLister
	if hist != nil {
		lister = hist
	}
	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, run, lister).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}
	// Wait for a running batch to finish writing.
	<-sched.Stop().Done()

	appLog.Info("smartsign exiting")
}

// runOnce processes one batch and returns the process exit code.
func runOnce(ctx context.Context, run *runner.Runner, file string) int {
	var (
		rep runner.Report
		err error
	)
	if file != "" {
		rep, err = run.RunFile(ctx, file, time.Now())
	} else {
		rep, err = run.Run(ctx, runner.TriggerManual, time.Now())
	}
	if err != nil {
		appLog.Error("batch failed", err, "run_id", rep.RunID)
		return 1
	}
	if rep.Outcome.Status == model.StatusInputError {
		return 2
	}
	return 0
}

func startScheduler(ctx context.Context, run *runner.Runner, schedule string) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(run.Location()))
	_, err := c.AddFunc(schedule, func() {
		if _, err := run.Run(ctx, runner.TriggerSchedule, time.Now()); err != nil {
			appLog.Error("scheduled batch failed", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	appLog.Info("refresh scheduler started", "refresh", schedule, "timezone", run.Location().String())
	return c, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/smartsign/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one batch and exit")
	flag.StringVar(&cfg.file, "file", "", "With -once: process this workbook instead of the stored one")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	flag.Parse()

	return cfg
}
