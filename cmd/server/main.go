// Command server boots the multi-tenant WhatsApp platform: it opens the
// database, wires the stores, provider client, flow interpreter,
// broadcast dispatcher, scheduler, and realtime hub, then serves the
// webhook ingestion and operator API routes over HTTP. Grounded on the
// teacher's cmd/server/main.go wiring shape (gin.Engine, CORS
// middleware, grouped routes), generalized from its single hand-built
// whatsapp.Client + automation.Engine pair to the tenant-scoped
// component graph SPEC_FULL.md describes.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"whatsapp-platform/internal/api"
	"whatsapp-platform/internal/broadcast"
	"whatsapp-platform/internal/config"
	"whatsapp-platform/internal/flow"
	"whatsapp-platform/internal/ingest"
	"whatsapp-platform/internal/logctx"
	"whatsapp-platform/internal/providerclient"
	"whatsapp-platform/internal/realtime"
	"whatsapp-platform/internal/scheduler"
	"whatsapp-platform/internal/store"
	broadcaststore "whatsapp-platform/internal/store/broadcast"
	"whatsapp-platform/internal/store/inbox"
	"whatsapp-platform/internal/store/notification"
	"whatsapp-platform/internal/store/session"
	tenantstore "whatsapp-platform/internal/store/tenant"
)

func main() {
	configPath := flag.String("config", "", "directory containing default.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	if err := logctx.Init(cfg.LogLevel, cfg.Development); err != nil {
		panic(err)
	}
	log := logctx.Log
	defer log.Sync()

	db, err := store.Open(cfg)
	if err != nil {
		log.Fatal("open database", zap.Error(err))
	}

	tenants := tenantstore.New(db)
	inboxStore := inbox.New(db)
	sessions := session.New(db)
	broadcasts := broadcaststore.New(db)
	notifications := notification.New(db)

	provider := providerclient.New(cfg.Provider.APIVersion, cfg.Timeouts.Provider)
	hub := realtime.New()
	interpreter := flow.New(db, sessions, inboxStore, tenants, provider, hub)
	dispatcher := broadcast.New(tenants, broadcasts, provider, inboxStore, hub)
	sched := scheduler.New(broadcasts, notifications, sessions, tenants, provider, dispatcher)

	ingestHandler := ingest.New(tenants, inboxStore, broadcasts, provider, hub, interpreter, cfg.Development)

	router := api.NewRouter(api.Deps{
		Config:     cfg,
		DB:         db,
		Tenants:    tenants,
		Broadcasts: broadcasts,
		Provider:   provider,
		Dispatcher: dispatcher,
		Ingest:     ingestHandler,
		Hub:        hub,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx.Done())
	sched.Start(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
