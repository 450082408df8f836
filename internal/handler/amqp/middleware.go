package amqp

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const metaTraceID = "trace_id"

type traceIDKey struct{}

// TraceIDFromContext returns the trace id attached by TracingMiddleware.
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// [TRACING_MIDDLEWARE]
// Opens an intake span per message. The trace id travels in metadata so the
// poison queue copy keeps it; a recording span's own id wins over a random one.
func TracingMiddleware(tracer trace.Tracer) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx, span := tracer.Start(msg.Context(), "amqp.intake",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.message.id", msg.UUID),
					attribute.String("messaging.rabbitmq.routing_key", routingKey(msg)),
				),
			)
			defer span.End()

			traceID := msg.Metadata.Get(metaTraceID)
			if traceID == "" {
				if sc := span.SpanContext(); sc.HasTraceID() {
					traceID = sc.TraceID().String()
				} else {
					traceID = uuid.NewString()
				}
				msg.Metadata.Set(metaTraceID, traceID)
			}
			msg.SetContext(context.WithValue(ctx, traceIDKey{}, traceID))

			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return msgs, err
		}
	}
}

// [LOGGING_MIDDLEWARE]
// One line per delivery attempt; failures are raised to warn.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			lvl := slog.LevelDebug
			if err != nil {
				lvl = slog.LevelWarn
			}
			logger.Log(msg.Context(), lvl, "MESSAGE_HANDLED",
				"msg_id", msg.UUID,
				"routing_key", routingKey(msg),
				"trace_id", msg.Metadata.Get(metaTraceID),
				"duration_ms", time.Since(start).Milliseconds(),
				"err", err,
			)
			return msgs, err
		}
	}
}

// [RETRY_MIDDLEWARE]
// Only NACKed submits reach here; with the engine stopped a short backoff
// usually lands on the replacement cell.
func NewRetryMiddleware(logger watermill.LoggerAdapter) middleware.Retry {
	return middleware.Retry{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		Logger:          logger,
	}
}
