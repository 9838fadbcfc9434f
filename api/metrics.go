package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName          = "sprintboard/api"
	mutationSpanName    = "board.mutation"
	mutationEventName   = "board.mutation.completed"
	mutationEventDomain = "sprintboard"
)

// mutationRequestMetrics collects per-request timings for the mutation routes
// and emits them as one structured log entry plus an OTel span event.
type mutationRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	route  string
	op     string

	start              time.Time
	authDuration       time.Duration
	storeDuration      time.Duration
	encodeDuration     time.Duration
	idempotencyKeySet  bool
	containersReturned int
	errorStage         string
}

func newMutationRequestMetrics(ctx context.Context, route, op string, logger *log.Logger) (*mutationRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, mutationSpanName,
		trace.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("board.op", op),
		))
	return &mutationRequestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		op:     op,
		start:  time.Now(),
	}, spanCtx
}

func (m *mutationRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *mutationRequestMetrics) ObserveStore(d time.Duration) {
	if d > 0 {
		m.storeDuration = d
	}
}

func (m *mutationRequestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *mutationRequestMetrics) SetIdempotencyKeyProvided(provided bool) {
	m.idempotencyKeySet = provided
}

func (m *mutationRequestMetrics) SetContainersReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.containersReturned = count
}

func (m *mutationRequestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// Log finalizes the request: it records the span event, sets the span status
// and writes the structured log entry. It must be called exactly once.
func (m *mutationRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	severityText, severityNumber := severityForStatus(status, err)
	totalMs := durationToMillis(time.Since(m.start))

	attrs := map[string]any{
		"http.route":                     m.route,
		"board.op":                       m.op,
		"board.idempotency_key_provided": m.idempotencyKeySet,
		"board.containers_returned":      m.containersReturned,
		"board.total_ms":                 totalMs,
	}
	if m.authDuration > 0 {
		attrs["board.auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.storeDuration > 0 {
		attrs["board.store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.encodeDuration > 0 {
		attrs["board.encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		attrs["board.error_stage"] = m.errorStage
	}
	if err != nil {
		attrs["error.message"] = err.Error()
	}

	if m.span != nil {
		spanAttrs := make([]attribute.KeyValue, 0, len(attrs)+4)
		spanAttrs = append(spanAttrs,
			attribute.String("event.name", mutationEventName),
			attribute.String("event.domain", mutationEventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		)
		for k, v := range attrs {
			spanAttrs = append(spanAttrs, anyToAttribute(k, v))
		}
		m.span.SetAttributes(attribute.Int("http.status_code", status))
		if m.errorStage != "" {
			m.span.SetAttributes(attribute.String("board.error_stage", m.errorStage))
		}
		m.span.AddEvent("observability.event", trace.WithAttributes(spanAttrs...))
		if err != nil || status >= http.StatusInternalServerError {
			desc := m.errorStage
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"event.name":      mutationEventName,
		"event.domain":    mutationEventDomain,
		"status":          status,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrs,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	m.logger.WithFields(fields).Log(levelForSeverity(severityText), "observability.event")
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func levelForSeverity(text string) log.Level {
	switch text {
	case "ERROR":
		return log.ErrorLevel
	case "WARN":
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func anyToAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, "")
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
