package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/config"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/db"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/handlers/websocket"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/integration"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/notify"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/repository/memory"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/resource"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/routes"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/services"
	wsservice "github.com/ZerkerEOD/krakenhashes/coordinator/internal/services/websocket"
	"github.com/ZerkerEOD/krakenhashes/coordinator/pkg/debug"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		debug.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	// pick up DEBUG and LOG_LEVEL from the .env file
	debug.Reinitialize()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		debug.Error("Coordinator stopped with error: %v", err)
		os.Exit(1)
	}
	debug.Info("Coordinator stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	stores, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStores()

	files, err := resource.NewFileStore(cfg.DataDir, cfg.PublicBaseURL)
	if err != nil {
		return err
	}
	files.Warm()

	// the agent pusher needs the websocket handler before the engine exists
	wsConfig := websocket.Config{WriteWait: cfg.WriteWait, PongWait: cfg.PongWait, PingPeriod: cfg.PingPeriod}
	wsService := wsservice.NewService(nil)
	wsHandler := websocket.NewHandler(wsService, wsConfig)
	events := websocket.NewEventStream(wsConfig)

	deliverers := []notify.Deliverer{
		notify.LogDeliverer{},
		events,
		integration.NewAgentPusher(wsHandler),
	}
	if cfg.WebhookURL != "" {
		deliverers = append(deliverers, notify.NewWebhookDeliverer(notify.WebhookConfig{
			URL:        cfg.WebhookURL,
			Secret:     cfg.WebhookSecret,
			RetryCount: 3,
		}))
	}
	if cfg.AMQPURL != "" {
		amqpDeliverer, err := notify.NewAMQPDeliverer(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			debug.Warning("AMQP notifications disabled: %v", err)
		} else {
			defer amqpDeliverer.Close()
			deliverers = append(deliverers, amqpDeliverer)
		}
	}
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{}, deliverers...)

	engine := services.NewEngine(stores, files, dispatcher, services.EngineConfig{
		LeaseDuration:          cfg.LeaseDuration,
		LeaseGraceFactor:       cfg.LeaseGraceFactor,
		MaxTaskRetries:         cfg.MaxTaskRetries,
		SweepSchedule:          cfg.SweepSchedule,
		ChunkDuration:          cfg.ChunkDuration,
		FallbackChunkSize:      cfg.FallbackChunkSize,
		ChunkFluctuationPct:    cfg.ChunkFluctuationPct,
		ProgressRecalcInterval: cfg.ProgressRecalcInterval,
		DAGEnabledByDefault:    cfg.DAGEnabledByDefault,
	})
	wsService.SetEngine(engine)

	if err := engine.Leases.Start(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: routes.NewRouter(routes.Dependencies{
			Engine:  engine,
			Files:   files,
			AgentWS: wsHandler,
			Events:  events,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		debug.Info("Coordinator listening on %s (store: %s)", cfg.HTTPAddr, cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		debug.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Leases survive a restart; agents reconnect and keep their chunks.
	wsHandler.Close()
	events.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		debug.Warning("HTTP server shutdown: %v", err)
	}
	engine.Leases.Stop()
	if err := dispatcher.Close(shutdownCtx); err != nil {
		debug.Warning("Notification dispatcher shutdown: %v", err)
	}
	if dropped := dispatcher.Dropped(); dropped > 0 {
		debug.Warning("%d notifications were dropped", dropped)
	}
	return nil
}

// openStores connects the configured persistence backend
func openStores(ctx context.Context, cfg *config.Config) (services.Stores, func(), error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		debug.Warning("Using the in-memory store; state is lost on restart")
		store := memory.NewStore()
		return services.Stores{
			Campaigns: store.Campaigns(),
			Attacks:   store.Attacks(),
			Tasks:     store.Tasks(),
			Agents:    store.Agents(),
			Hashes:    store.Hashes(),
		}, func() {}, nil
	}

	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return services.Stores{}, nil, err
	}
	if err := db.RunMigrations(database); err != nil {
		database.Close()
		return services.Stores{}, nil, err
	}

	return services.Stores{
		Campaigns: repository.NewCampaignRepository(database),
		Attacks:   repository.NewAttackRepository(database),
		Tasks:     repository.NewTaskRepository(database),
		Agents:    repository.NewAgentRepository(database),
		Hashes:    repository.NewHashListRepository(database),
	}, func() { database.Close() }, nil
}
