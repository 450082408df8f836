package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"
	"github.com/webitel/im-coalescer-service/config"
	"github.com/webitel/im-coalescer-service/internal/adapter/pubsub"
	"github.com/webitel/im-coalescer-service/internal/domain/registry"
	"github.com/webitel/im-coalescer-service/internal/service"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	// ------------------- TOPICS (ROUTING KEYS) -----------------
	TopicNotifyEvent = "im_notify.#.event.v1"

	// ------------------- QUEUES (CONSUMERS) --------------------
	PoisonSuffix = ".poison"
)

type EventHandler struct {
	hub       registry.Hubber
	deliverer service.Deliverer
	logger    *slog.Logger
	wmLogger  watermill.LoggerAdapter
	tracer    trace.Tracer
	localOnly bool
}

// NewEventHandler builds the intake handler. With localOnly events for users
// without a cell on this node are acknowledged and skipped.
func NewEventHandler(hub registry.Hubber, deliverer service.Deliverer, logger *slog.Logger, wmLogger watermill.LoggerAdapter, localOnly bool) *EventHandler {
	return &EventHandler{
		hub:       hub,
		deliverer: deliverer,
		logger:    logger.With("component", "amqp_intake"),
		wmLogger:  wmLogger,
		tracer:    otel.Tracer("github.com/webitel/im-coalescer-service/amqp"),
		localOnly: localOnly,
	}
}

func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
	if err != nil {
		return nil, fmt.Errorf("ROUTER_SETUP_FAILED: %w", err)
	}
	router.AddMiddleware(middleware.Recoverer)
	return router, nil
}

// [REGISTRATION_PIPELINE]
func (h *EventHandler) RegisterHandlers(router *message.Router, provider pubsub.Provider, cfg *config.Config) error {
	poisonPub, err := provider.Publisher(cfg.AMQP.Exchange)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}
	poison, err := middleware.PoisonQueue(poisonPub, cfg.AMQP.Queue+PoisonSuffix)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	configs := []struct {
		name     string
		exchange string
		topic    string
		handler  message.NoPublishHandlerFunc
	}{
		{"ON_NOTIFY_EVENT", cfg.AMQP.Exchange, TopicNotifyEvent, Bind(h, h.OnEventV1)},
	}

	for _, c := range configs {
		// [UNIQUE_HANDLER_QUEUE]
		// One queue per handler on THIS node.
		// Format: im-coalescer.intake.v1.b23a8f12.ON_NOTIFY_EVENT
		instanceID := uuid.NewString()[:8]
		handlerQueue := fmt.Sprintf("%s.%s.%s", cfg.AMQP.Queue, instanceID, c.name)

		sub, err := provider.Subscriber(handlerQueue, c.exchange, c.topic)
		if err != nil {
			return err
		}

		router.AddConsumerHandler(c.name, c.topic, sub, c.handler).AddMiddleware(
			TracingMiddleware(h.tracer),
			LoggingMiddleware(h.logger),
			NewRetryMiddleware(h.wmLogger).Middleware,
			poison,
			middleware.NewThrottle(1000, time.Second).Middleware,
			middleware.Timeout(30*time.Second),
		)
	}

	h.logger.Info("AMQP_PIPELINE_READY", "queue", cfg.AMQP.Queue, "exchange", cfg.AMQP.Exchange)
	return nil
}

// RunRouter ties the router to the fx lifecycle.
func RunRouter(ctx context.Context, router *message.Router, logger *slog.Logger) {
	go func() {
		if err := router.Run(ctx); err != nil {
			logger.Error("ROUTER_STOPPED", "err", err)
		}
	}()
}
