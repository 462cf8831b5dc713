// The terminal core daemon. It runs beside the POS UI on the same machine,
// owns the durable offline queue and snapshot cache, and bridges state to
// the UI over localhost REST and WebSocket.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quickmart/poscore/cmd/terminal/handlers"
	"github.com/quickmart/poscore/internal/api"
	"github.com/quickmart/poscore/internal/cache"
	"github.com/quickmart/poscore/internal/config"
	"github.com/quickmart/poscore/internal/connectivity"
	"github.com/quickmart/poscore/internal/logging"
	"github.com/quickmart/poscore/internal/store"
	"github.com/quickmart/poscore/internal/sync/queue"
	"github.com/quickmart/poscore/internal/sync/scheduler"
)

func main() {
	configPath := flag.String("config", "poscore.json", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("Failed to load configuration", err, nil)
		os.Exit(1)
	}

	logging.Init(os.Stdout, logging.ParseLevel(cfg.Server.LogLevel))

	if err := run(cfg); err != nil {
		logging.Error("Terminal core exited with error", err, nil)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Durable storage. Opening here surfaces STORAGE_UNAVAILABLE before
	// anything else starts; the UI should degrade to online-only when the
	// daemon refuses to come up.
	st := store.New(cfg.Server.DataDir)
	if err := st.Open(); err != nil {
		return err
	}
	defer st.Close()

	// Offline queue, restored from the previous run.
	q := queue.New(st,
		queue.WithSubmitTimeout(cfg.SubmitTimeout()),
		queue.WithMaxAttempts(cfg.Sync.MaxReplayAttempts),
	)
	if err := q.Load(ctx); err != nil {
		return err
	}

	// Snapshot cache backend.
	var snapshots cache.Cache = cache.NewStoreCache(st)
	if cfg.Cache.Backend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		defer client.Close()
		snapshots = cache.NewRedisCache(client, cfg.CacheTTL())
		logging.Info("Using shared redis snapshot cache", map[string]interface{}{
			"addr": cfg.Cache.RedisAddr,
		})
	}

	// Backend client and connectivity monitor.
	client := api.New(cfg.Backend.BaseURL, cfg.Backend.AuthToken, cfg.SubmitTimeout())
	prober := connectivity.NewHTTPProber(client.HealthURL(), 5*time.Second)
	monitor := connectivity.NewMonitor(prober, cfg.ProbeInterval())

	// Replay scheduler: reconnect edges plus a periodic pass while online.
	sched := scheduler.New(q, client.SubmitFunc(), monitor, &scheduler.Config{
		ReplayInterval: cfg.ReplayInterval(),
	})

	// UI bridge.
	hub := NewWSHub()
	q.SetEventHandler(hub)
	unsubscribe := monitor.OnChange(hub.ConnectivityChanged)
	defer unsubscribe()

	mux := http.NewServeMux()
	handlers.NewSyncHandler(q, sched, monitor).Register(mux)
	handlers.NewSnapshotHandler(snapshots).Register(mux)
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"poscore-terminal"}`))
	})
	mux.Handle("GET /ws", HandleWebSocket(hub))

	monitor.Start(ctx)
	defer monitor.Stop()
	sched.Start(ctx)
	defer sched.Stop()

	server := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("Terminal core listening", map[string]interface{}{
			"addr":    cfg.Server.ListenAddr,
			"backend": cfg.Backend.BaseURL,
			"pending": q.Count(),
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logging.Info("Shutting down", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}
