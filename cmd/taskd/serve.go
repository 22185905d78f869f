package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frak-id/atelier-sub002/internal/api"
	"github.com/frak-id/atelier-sub002/internal/config"
	"github.com/frak-id/atelier-sub002/internal/live"
	"github.com/frak-id/atelier-sub002/internal/models"
	"github.com/frak-id/atelier-sub002/internal/monitor"
	"github.com/frak-id/atelier-sub002/internal/opencode"
	"github.com/frak-id/atelier-sub002/internal/progress"
	"github.com/frak-id/atelier-sub002/internal/sandboxes"
	"github.com/frak-id/atelier-sub002/internal/snapshot"
	"github.com/frak-id/atelier-sub002/internal/store"
	"github.com/frak-id/atelier-sub002/internal/tasks"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, live subscriptions and auto-advance monitor",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "HTTP listen port (PORT)")
	_ = settings.BindPFlag("PORT", serveCmd.Flags().Lookup("port"))
}

// services is the wiring shared by serve and mcp.
type services struct {
	db         *store.DB
	tasks      *tasks.Service
	directory  *sandboxes.Directory
	cache      *snapshot.Cache
	progress   *progress.Service
	controller sandboxes.Controller
}

func buildServices(cfg *config.Config, logger *slog.Logger) (*services, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	directory := sandboxes.NewDirectory(cfg.SandboxDirectory, logger)
	if err := directory.Load(); err != nil {
		logger.Warn("sandbox directory not loaded, starting empty", "path", cfg.SandboxDirectory, "error", err)
	}

	cache := snapshot.NewCache(cfg.PollInterval, cfg.TodoFetchConcurrency, func(url string) snapshot.Source {
		return opencode.NewClient(url, cfg.OpencodeTimeout)
	}, logger)

	var controller sandboxes.Controller = sandboxes.NewLogController(logger)
	if cfg.SandboxManagerURL != "" {
		controller = sandboxes.NewHTTPController(cfg.SandboxManagerURL, logger)
	}

	return &services{
		db:         db,
		tasks:      tasks.NewService(store.NewTaskStore(db), cfg.MaxActiveTasks, logger),
		directory:  directory,
		cache:      cache,
		progress:   progress.NewService(directory, cache),
		controller: controller,
	}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(os.Stdout)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.db.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Auto-advance
	var mon *monitor.Monitor
	if cfg.AutoAdvance {
		mon = monitor.New(svc.tasks, svc.progress, cfg.PollInterval, cfg.AutoAdvanceIdleTicks, logger)
	}

	// Live subscriptions, one per running sandbox runtime
	opts := []live.ManagerOption{live.WithRemoveHook(svc.cache.Forget)}
	if mon != nil {
		opts = append(opts, live.WithEventHook(mon.OnEvent))
	}
	policy := live.RetryPolicy{
		Initial:     cfg.SSEInitialRetry,
		Max:         cfg.SSEMaxRetry,
		MaxAttempts: cfg.SSEMaxAttempts,
	}
	subs := live.NewManager(live.OpencodeDialer(cfg.OpencodeTimeout), svc.cache, policy, logger, opts...)
	defer subs.Close()

	svc.directory.OnChange(func(list []models.Sandbox) {
		subs.Sync(sandboxes.RunningURLs(list))
	})
	subs.Sync(svc.directory.RunningURLs())

	if err := svc.directory.Watch(ctx); err != nil {
		logger.Warn("sandbox directory watch failed, changes need a restart", "path", cfg.SandboxDirectory, "error", err)
	}

	if mon != nil {
		go mon.Run(ctx)
	}

	router := api.NewRouter(svc.db, svc.tasks, svc.progress, svc.directory, subs, svc.controller, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("task server starting", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	stop()
	svc.directory.Wait()
	logger.Info("server stopped")
	return nil
}
