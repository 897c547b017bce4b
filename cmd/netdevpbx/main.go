package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/netdevpbx/netdevpbx/internal/api"
	"github.com/netdevpbx/netdevpbx/internal/api/middleware"
	"github.com/netdevpbx/netdevpbx/internal/config"
	"github.com/netdevpbx/netdevpbx/internal/database"
	"github.com/netdevpbx/netdevpbx/internal/database/pgstore"
	"github.com/netdevpbx/netdevpbx/internal/dialplan"
	"github.com/netdevpbx/netdevpbx/internal/events"
	"github.com/netdevpbx/netdevpbx/internal/media"
	"github.com/netdevpbx/netdevpbx/internal/metrics"
	"github.com/netdevpbx/netdevpbx/internal/prompts"
	"github.com/netdevpbx/netdevpbx/internal/recording"
	"github.com/netdevpbx/netdevpbx/internal/session"
	sipserver "github.com/netdevpbx/netdevpbx/internal/sip"
)

// retentionInterval is how often expired recordings are swept.
const retentionInterval = time.Hour

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting netdevpbx",
		"http_port", cfg.HTTPPort,
		"sip_port", cfg.SIPPort,
		"rtp_ports", fmt.Sprintf("%d-%d", cfg.RTPPortMin, cfg.RTPPortMax),
		"media_ip", cfg.MediaIP(),
		"data_dir", cfg.DataDir,
	)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	db, err := openDatabase(appCtx, cfg, logger)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := database.NewStore(db)

	if err := os.MkdirAll(cfg.RecordingPath(), 0750); err != nil {
		slog.Error("failed to create recording directory", "path", cfg.RecordingPath(), "error", err)
		os.Exit(1)
	}
	recording.StartRetention(appCtx, store.Recordings, cfg.RecordRetention(), retentionInterval, logger)

	if _, err := prompts.Install(cfg.PromptDir, logger); err != nil {
		slog.Warn("failed to install placeholder prompts", "dir", cfg.PromptDir, "error", err)
	}
	var extra []string
	if cfg.WelcomePrompt != "" {
		extra = append(extra, cfg.WelcomePrompt)
	}
	for path, err := range prompts.Check(cfg.PromptDir, extra...) {
		slog.Warn("prompt will not play", "file", path, "error", err)
	}

	// Channel events feed the log, the call records and the counters.
	bus := events.NewBus(logger)
	bus.Attach(events.NewLogSink(logger))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	counters, err := metrics.NewEventCounters(reg)
	if err != nil {
		slog.Error("failed to register event counters", "error", err)
		os.Exit(1)
	}

	var consumers sync.WaitGroup
	callEvents, _ := bus.Subscribe()
	metricEvents, _ := bus.Subscribe()
	consumers.Add(2)
	go func() {
		defer consumers.Done()
		database.TrackCalls(appCtx, store.Calls, callEvents, logger)
	}()
	go func() {
		defer consumers.Done()
		counters.Run(appCtx, metricEvents)
	}()

	channels := session.NewManager(bus, logger)

	ports, err := media.NewPortPool(cfg.RTPPortMin, cfg.RTPPortMax, logger)
	if err != nil {
		slog.Error("failed to create rtp port pool", "error", err)
		os.Exit(1)
	}

	executor, err := buildDialplan(cfg, store, logger)
	if err != nil {
		slog.Error("failed to load dialplan", "error", err)
		os.Exit(1)
	}

	sipSrv, err := sipserver.NewServer(cfg, channels, executor, ports, logger)
	if err != nil {
		slog.Error("failed to create sip server", "error", err)
		os.Exit(1)
	}
	if err := sipSrv.Start(appCtx); err != nil {
		slog.Error("failed to start sip server", "error", err)
		os.Exit(1)
	}

	reg.MustRegister(metrics.NewCollector(metrics.Sources{
		Channels:    channels,
		Ports:       ports,
		Dialogs:     sipSrv,
		Collections: store.Collections,
		Recordings:  store.Recordings,
	}, time.Now(), logger))

	var limiter *middleware.ClientLimiter
	if cfg.APIRate > 0 {
		limiter = middleware.NewClientLimiter(rate.Limit(cfg.APIRate), int(cfg.APIRate*2))
		go limiter.Run(appCtx, logger)
	}
	if cfg.APIToken == "" {
		slog.Warn("no api token configured, the http api is unauthenticated")
	}

	handler := api.NewServer(api.Deps{
		Channels: channels,
		Store:    store,
		Dialplan: executor,
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Limiter:  limiter,
		Token:    cfg.APIToken,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	slog.Info("shutting down", "active_channels", channels.Count())
	channels.HangupAll(session.CauseShutdown)
	sipSrv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	// Closing the bus lets the consumers drain the final hang-up events.
	bus.Close()
	consumers.Wait()
	appCancel()

	slog.Info("netdevpbx stopped")
}

// openDatabase connects to PostgreSQL when a DSN is configured and to the
// SQLite file in the data directory otherwise.
func openDatabase(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*database.DB, error) {
	if cfg.DatabaseURL != "" {
		slog.Info("using postgresql store")
		return pgstore.Open(ctx, cfg.DatabaseURL, logger)
	}
	slog.Info("using sqlite store", "data_dir", cfg.DataDir)
	return database.Open(cfg.DataDir)
}

// buildDialplan registers the applications and loads the extensions.
func buildDialplan(cfg *config.Config, store *database.Store, logger *slog.Logger) (*dialplan.Executor, error) {
	reg := dialplan.NewRegistry()
	reg.MustRegister(dialplan.BasicApps(cfg.PromptDir)...)
	reg.MustRegister(
		dialplan.NewReadDigits(store.Collections, logger),
		dialplan.NewNetDevRecord(dialplan.NetDevRecordConfig{
			PromptDir:     cfg.PromptDir,
			RecordingDir:  cfg.RecordingPath(),
			WelcomePrompt: cfg.WelcomePrompt,
			MaxRecording:  cfg.RecordMax(),

			SilenceThreshold: cfg.RecordSilenceLevel,
			SilenceTimeout:   cfg.RecordSilence(),
		}, store.Collections, store.Recordings, logger),
	)

	dp := dialplan.Default()
	if cfg.DialplanFile != "" {
		var err error
		if dp, err = dialplan.LoadFile(cfg.DialplanFile); err != nil {
			return nil, err
		}
		slog.Info("dialplan loaded", "file", cfg.DialplanFile, "extensions", len(dp.Extensions))
	}
	return dialplan.NewExecutor(reg, dp, logger)
}
