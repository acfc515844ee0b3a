// Command syncd runs the pulsefeed sync engine as a standalone daemon with
// its admin HTTP surface. The mobile app embeds the same packages directly;
// the daemon exists for development, integration testing, and operations.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tsengko/pulsefeed-sync/internal/config"
	"github.com/tsengko/pulsefeed-sync/internal/connectivity"
	"github.com/tsengko/pulsefeed-sync/internal/db"
	"github.com/tsengko/pulsefeed-sync/internal/logging"
	"github.com/tsengko/pulsefeed-sync/internal/metrics"
	"github.com/tsengko/pulsefeed-sync/internal/remote"
	"github.com/tsengko/pulsefeed-sync/internal/server"
	syncpkg "github.com/tsengko/pulsefeed-sync/internal/sync"
	"github.com/tsengko/pulsefeed-sync/internal/sync/queue"
	"github.com/tsengko/pulsefeed-sync/internal/sync/scheduler"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "syncd",
		Short: "pulsefeed offline sync daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "run the sync worker and admin server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "apply pending schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) (*db.DB, *db.Store, error) {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	if err := db.NewMigrator(database.DB).Up(); err != nil {
		database.Close()
		return nil, nil, err
	}
	return database, db.NewStore(database), nil
}

func migrate() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	database, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	migrator := db.NewMigrator(database.DB)
	version, err := migrator.CurrentVersion()
	if err != nil {
		return err
	}
	logging.Info("Schema up to date", map[string]interface{}{"version": version})
	return nil
}

func serve() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Init(logging.LogLevel(cfg.LogLevel))

	database, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	defer store.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	q := queue.NewManager(store, m, cfg.MaxRetries)
	client := remote.NewHTTPClient(cfg.APIBaseURL, cfg.HTTPTimeout)
	engine := syncpkg.NewEngine(store, q, client, m)

	monitor := connectivity.NewMonitor(cfg.ProbeURL, cfg.ProbeInterval)
	sched := scheduler.New(engine, q, monitor, &scheduler.Config{
		SyncInterval: cfg.SyncInterval,
		BackoffFloor: cfg.BackoffFloor,
	})
	monitor.Subscribe(sched.HandleOnlineTransition)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor.Start(ctx)
	sched.Start(ctx)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.NewRouter(sched, q, registry),
	}
	go func() {
		logging.Info("Admin server listening", map[string]interface{}{"addr": cfg.ListenAddr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Admin server failed", err, nil)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	sched.Stop()
	monitor.Stop()
	return nil
}
