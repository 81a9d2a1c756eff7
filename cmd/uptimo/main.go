package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/uptimo/uptimo/internal/checker"
	"github.com/uptimo/uptimo/internal/config"
	"github.com/uptimo/uptimo/internal/event"
	"github.com/uptimo/uptimo/internal/incident"
	"github.com/uptimo/uptimo/internal/metrics"
	"github.com/uptimo/uptimo/internal/monitor"
	"github.com/uptimo/uptimo/internal/notify"
	"github.com/uptimo/uptimo/internal/retention"
	"github.com/uptimo/uptimo/internal/scheduler"
	"github.com/uptimo/uptimo/internal/store"
	"github.com/uptimo/uptimo/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// Load configuration before the logger so log level/format can be configured.
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("uptimo starting", zap.String("version", version.Short()))
	if f := cfg.ConfigFileUsed(); f != "" {
		logger.Info("configuration loaded", zap.String("source", f))
	} else {
		logger.Warn("no configuration file found, using defaults")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("fatal", zap.Error(err))
	}
}

func run(cfg *viper.Viper, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database and schema.
	db, err := store.New(cfg.GetString("database.path"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	for _, mg := range []struct {
		component  string
		migrations []store.Migration
	}{
		{"monitor", monitor.Migrations()},
		{"incident", incident.Migrations()},
		{"notify", notify.Migrations()},
		{"retention", retention.Migrations()},
	} {
		if err := db.Migrate(ctx, mg.component, mg.migrations); err != nil {
			return fmt.Errorf("migrate %s: %w", mg.component, err)
		}
	}
	logger.Info("database initialized", zap.String("path", cfg.GetString("database.path")))

	// Shared services.
	bus := event.NewBus(logger.Named("event"))
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	inst := metrics.New(reg)

	monitors := monitor.NewStore(db.DB())
	incidents := incident.NewStore(db.DB())
	notifs := notify.NewStore(db.DB())

	// Check pipeline.
	domains := checker.NewDomainCollector(
		cfg.GetDuration("checker.domain_cache_ttl"),
		cfg.GetInt("checker.whois_rate_per_minute"),
		logger.Named("domain"),
	)
	registry := checker.NewRegistry(domains)
	manager := incident.NewManager(incidents, bus, inst, logger.Named("incident"))
	sched := scheduler.New(monitors, registry, manager, inst,
		cfg.GetInt("scheduler.max_concurrent_checks"), logger.Named("scheduler"))

	dispatcher := notify.NewDispatcher(notifs, monitors, incidents, bus, inst,
		cfg.GetDuration("notify.send_timeout"),
		cfg.GetDuration("notify.escalation_sweep_interval"),
		logger.Named("notify"))
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	// Retention.
	keeper := retention.New(db, monitors, incidents, notifs,
		cfg.GetInt("retention.batch_size"),
		map[string]int{
			retention.TypeCheckResults:     cfg.GetInt("retention.check_results_days"),
			retention.TypeIncidents:        cfg.GetInt("retention.incidents_days"),
			retention.TypeNotificationLogs: cfg.GetInt("retention.notification_logs_days"),
		},
		logger.Named("retention"))
	if err := keeper.StartSchedule(ctx, cfg.GetString("retention.run_at")); err != nil {
		return err
	}
	defer keeper.StopSchedule()

	// Metrics endpoint.
	var metricsSrv *http.Server
	if listen := cfg.GetString("metrics.listen"); listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("metrics listener started", zap.String("addr", listen))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener failed", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}
