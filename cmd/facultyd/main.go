package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"faculty-status-backend/config"
	"faculty-status-backend/internal/api"
	"faculty-status-backend/internal/db"
	"faculty-status-backend/internal/facultycache"
	"faculty-status-backend/internal/notification"
	"faculty-status-backend/internal/portal"
	"faculty-status-backend/internal/realtime"
	"faculty-status-backend/internal/statusfeed"
	"faculty-status-backend/internal/watch"
	"faculty-status-backend/internal/ws"
)

type closableStore interface {
	realtime.Store
	Close() error
}

func main() {
	logger := log.New(os.Stdout, "facultyd ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var gormDB *gorm.DB
	if cfg.Realtime.Backend == "gorm" || cfg.Push.Enabled() {
		gormDB, err = db.Init(&cfg.Database)
		if err != nil {
			logger.Fatalf("failed to initialize database: %v", err)
		}
		logger.Println("database initialized successfully")
	}

	var store closableStore
	switch cfg.Realtime.Backend {
	case "memory":
		store = realtime.NewMemoryStore()
		logger.Println("using in-memory realtime store")
	case "gorm":
		gs := realtime.NewGormStore(gormDB)
		go gs.Run(ctx, cfg.Realtime.PollInterval)
		store = gs
		logger.Printf("using database realtime store, polling every %s", cfg.Realtime.PollInterval)
	default:
		logger.Fatalf("unknown realtime backend %q", cfg.Realtime.Backend)
	}
	defer store.Close()

	cache := facultycache.New()
	if err := cache.Start(store); err != nil {
		logger.Fatalf("failed to start faculty cache: %v", err)
	}
	defer cache.Close()
	go func() {
		select {
		case <-cache.Ready():
			logger.Println("faculty cache loaded")
		case <-ctx.Done():
		}
	}()

	hub := ws.NewHub()
	go hub.Run(ctx)
	notifiers := notification.Fanout{hub}

	var webpushOptions *webpush.Options
	if cfg.Push.Enabled() {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		workerPool.Start(ctx)
		notifiers = append(notifiers, workerPool)
	} else {
		logger.Println("VAPID keys are not configured, web push is disabled")
	}

	sessions := watch.NewRegistry(store, cache, notifiers, cfg.Session.IdleTTL)
	defer sessions.Close()

	if cfg.StatusFeed.Enabled {
		feed := statusfeed.New(store, cfg.StatusFeed)
		go func() {
			if err := feed.Run(ctx); err != nil {
				logger.Printf("status feed stopped: %v", err)
			}
		}()
	}

	handler := api.NewHandler(api.Deps{
		DB:       gormDB,
		Cache:    cache,
		Sessions: sessions,
		Portal:   portal.New(cfg.Portal),
		Hub:      hub,
		WebPush:  webpushOptions,
	})
	router := api.NewRouter(handler, cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server Shutdown: %v", err)
	}
	cancel()

	logger.Println("Server gracefully stopped")
}
