package events

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-core/internal/models"
	"chat-core/internal/observability"
	"chat-core/internal/rabbitmq"
)

const schemaVersion = 1

// Envelope is the wire form of every chat event, on the broker and on websockets.
type Envelope struct {
	SchemaVersion int                  `json:"schema_version"`
	EventType     string               `json:"event_type"`
	OccurredAt    string               `json:"occurred_at"`
	Service       string               `json:"service"`
	Environment   string               `json:"environment"`
	Tenant        string               `json:"tenant"`
	RequestID     string               `json:"request_id,omitempty"`
	Recipients    []models.Participant `json:"recipients"`
	Payload       any                  `json:"payload"`
}

// Sink receives events for live delivery to connected clients.
type Sink interface {
	Deliver(env Envelope)
}

// Notifier is what services depend on to announce state changes.
type Notifier interface {
	Emit(ctx context.Context, tenant, eventType string, recipients []models.Participant, payload any)
}

// Emitter fans every event out to the broker and to the registered sinks.
// Delivery failures are logged and never returned.
type Emitter struct {
	publisher   rabbitmq.Publisher
	sinks       []Sink
	service     string
	environment string
	log         *zap.Logger
	now         func() time.Time
}

func NewEmitter(publisher rabbitmq.Publisher, service, environment string, log *zap.Logger, sinks ...Sink) *Emitter {
	return &Emitter{
		publisher:   publisher,
		sinks:       sinks,
		service:     service,
		environment: environment,
		log:         log,
		now:         time.Now,
	}
}

// AddSink registers a sink after construction.
func (e *Emitter) AddSink(s Sink) {
	e.sinks = append(e.sinks, s)
}

func (e *Emitter) Emit(ctx context.Context, tenant, eventType string, recipients []models.Participant, payload any) {
	if e == nil {
		return
	}

	requestID := RequestIDFrom(ctx)
	env := Envelope{
		SchemaVersion: schemaVersion,
		EventType:     eventType,
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		Tenant:        tenant,
		RequestID:     requestID,
		Recipients:    recipients,
		Payload:       payload,
	}
	observability.IncEventEmitted(eventType)

	if e.publisher != nil {
		headers := BuildHeaders(requestID, traceIDFrom(ctx))
		if err := e.publisher.Publish(ctx, RoutingKey(eventType), env, headers); err != nil {
			observability.IncAMQPPublishError()
			e.log.Warn("event publish failed",
				zap.String("event", eventType),
				zap.String("tenant", tenant),
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		}
	}

	for _, s := range e.sinks {
		s.Deliver(env)
	}
}

// RoutingKey maps an event type onto its broker routing key.
func RoutingKey(eventType string) string {
	return "chat." + eventType
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["X-Request-Id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

func traceIDFrom(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

type requestIDKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}
