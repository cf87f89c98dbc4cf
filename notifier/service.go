// Package notifier assembles the ticket-notification service: the change
// event pipeline plus the token-registration API.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-ticket-notifier/internal/api"
	"github.com/tinywideclouds/go-ticket-notifier/internal/events"
	"github.com/tinywideclouds/go-ticket-notifier/internal/identity"
	"github.com/tinywideclouds/go-ticket-notifier/internal/pipeline"
	"github.com/tinywideclouds/go-ticket-notifier/notifier/config"
	"github.com/tinywideclouds/go-ticket-notifier/pkg/notify"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[events.ChangeEvent]
	logger          *slog.Logger
}

// New assembles the service. The stores, gateway and consumer are
// constructed once per process by the caller and reused across invocations.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	userStore notify.UserStore,
	writer notify.NotificationWriter,
	dispatcher notify.Dispatcher,
	reconciler notify.Reconciler,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Pipeline stages
	resolver := identity.NewResolver(userStore, logger)
	notifierCore := pipeline.NewNotifier(resolver, writer, dispatcher, reconciler, logger)
	processor := pipeline.NewProcessor(notifierCore, logger)

	// 3. Pipeline
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.ChangeEventTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API (Token Registration)
	tokenAPI := api.NewTokenAPI(userStore, resolver, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/register/push", tokenAPI.RegisterPush)
	handle("POST /api/v1/unregister/push", tokenAPI.UnregisterPush)

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 OK with CORS headers handled by middleware
	})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
