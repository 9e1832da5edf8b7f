package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncevo/pimsyncd/internal/admindata"
	"github.com/syncevo/pimsyncd/internal/applog"
	"github.com/syncevo/pimsyncd/internal/autosync"
	"github.com/syncevo/pimsyncd/internal/bus"
	"github.com/syncevo/pimsyncd/internal/daemonconfig"
	"github.com/syncevo/pimsyncd/internal/metrics"
	"github.com/syncevo/pimsyncd/internal/peerconfig"
	"github.com/syncevo/pimsyncd/internal/presence"
	"github.com/syncevo/pimsyncd/internal/scheduler"
	"github.com/syncevo/pimsyncd/internal/session"
	"github.com/syncevo/pimsyncd/internal/store"
	"github.com/syncevo/pimsyncd/internal/syncrunner"
)

const serviceName = "pimsyncd"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pimsyncd daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// logNotifier is the in-scope stand-in for the OS notification facade
// (spec.md §1 names "the OS notification UI" a Non-goal): component J's
// three outcomes are logged instead of raised as desktop notifications.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) Notify(configName string, kind autosync.NotificationKind) {
	var msg string
	switch kind {
	case autosync.FirstSuccessThenOK:
		msg = "auto-sync recovered"
	case autosync.FirstSuccessThenFail:
		msg = "auto-sync started failing"
	case autosync.NeverSucceededPermanentFailure:
		msg = "auto-sync has never succeeded"
	}
	n.logger.Warn(msg, "config", configName)
}

func runServe() error {
	cfg, err := daemonconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load daemon config: %w", err)
	}

	signalLog := scheduler.NewSignalLog()
	baseHandler := slog.NewJSONHandler(applog.SetupWriter(applog.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}), &slog.HandlerOptions{Level: applog.ParseLevel(cfg.Log.Level)})
	logger := slog.New(applog.NewTeeHandler(baseHandler, signalLog, "/org/pimsyncd/Server"))
	slog.SetDefault(logger)

	logger.Info("starting", "service", serviceName)

	m := metrics.Default()

	if err := os.MkdirAll(cfg.Store.RootDir, 0o755); err != nil {
		return fmt.Errorf("create store root dir: %w", err)
	}
	configStore, err := store.NewConfigTreeStore(filepath.Join(cfg.Store.RootDir, "configs"), 128)
	if err != nil {
		return fmt.Errorf("open config tree store: %w", err)
	}

	ctx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	reportStore, err := store.OpenReportStore(ctx, cfg.Store.ReportsDBPath, logger)
	cancelBoot()
	if err != nil {
		return fmt.Errorf("open reports store: %w", err)
	}
	defer reportStore.Close()

	var admin admindata.Store
	if cfg.UsesRedis() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		redisStore, err := admindata.NewRedisStore(ctx, admindata.RedisOptions{
			Addr:            cfg.Redis.Addr,
			Password:        cfg.Redis.Password,
			DB:              cfg.Redis.DB,
			PoolSize:        cfg.Redis.PoolSize,
			MinIdleConns:    cfg.Redis.MinIdleConns,
			DialTimeout:     cfg.Redis.DialTimeout,
			ReadTimeout:     cfg.Redis.ReadTimeout,
			WriteTimeout:    cfg.Redis.WriteTimeout,
			MaxRetries:      cfg.Redis.MaxRetries,
			MinRetryBackoff: cfg.Redis.MinRetryBackoff,
			MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
		}, logger)
		cancel()
		if err != nil {
			return fmt.Errorf("connect admin-data redis: %w", err)
		}
		defer redisStore.Close()
		admin = redisStore
	} else {
		diskStore, err := admindata.NewDiskStore(filepath.Join(cfg.Store.RootDir, "admindata"))
		if err != nil {
			return fmt.Errorf("open admin-data disk store: %w", err)
		}
		admin = diskStore
	}
	_ = admin // wired into component D's adapter once a transport drives it; see DESIGN.md

	registry := newBackendRegistry(cfg.Store.RootDir)

	sched := scheduler.New(logger, m.Scheduler(), 1)

	presenceMon := presence.New()
	presenceMon.Register(presence.NewHTTPProvider(func(ctx context.Context) error {
		return nil
	}, 60*time.Second))

	runnerOf := func(configName string) session.Runner {
		return syncrunner.New(configName, registry.factory,
			filepath.Join(cfg.Store.RootDir, "tracker", configName),
			filepath.Join(cfg.Store.RootDir, "snapshots", configName),
			time.Second)
	}

	autosyncMgr := autosync.New(presenceMon, sched, runnerOf, logNotifier{logger: logger}, logger, m.AutoSync())

	tree, err := configStore.Load()
	if err != nil {
		return fmt.Errorf("load config tree: %w", err)
	}
	configs := make(map[string]*peerconfig.Config)
	for _, name := range tree.Names() {
		if c, ok := tree.Get(name); ok {
			configs[name] = c
		}
	}
	autosyncMgr.RebuildTasks(configs)

	hub := bus.NewHub(logger, m.Bus())
	hubCtx, stopHub := context.WithCancel(context.Background())
	hub.Start(hubCtx)
	logOutputs := make(chan scheduler.LogOutput, 64)
	signalLog.Subscribe("hub", logOutputs)
	go func() {
		for out := range logOutputs {
			hub.Emit(bus.SignalLogOutput, out.Path, map[string]any{
				"level": out.Level.String(),
				"text":  out.Text,
			})
		}
	}()
	server := bus.NewServer(hub, sched, configStore, reportStore, presenceMon, runnerOf, registry.open, logger)
	router := bus.NewRouter(server, hub, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	upgradeWatcher, err := scheduler.NewUpgradeWatcher(sched, []string{os.Args[0]}, os.Args, os.Environ(),
		func(argv, envp []string) error {
			return syscall.Exec(argv[0], argv, envp)
		},
		func(code int) { os.Exit(code) },
		sched.HasActiveOrQueuedSession,
	)
	if err != nil {
		logger.Warn("upgrade watcher unavailable", "error", err)
	}
	stopUpgrade := make(chan struct{})
	if upgradeWatcher != nil {
		go upgradeWatcher.Run(stopUpgrade)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("http server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	close(stopUpgrade)
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
		return err
	}
	stopHub()
	_ = hub.Stop(shutdownCtx)
	presenceMon.Close()
	logger.Info("exited")
	return nil
}
