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
	tracerName        = "tandem/api"
	boardEventName    = "tandem.board.request"
	boardEventDomain  = "tandem.api"
	observabilityLine = "observability.event"
)

// boardRequestMetrics times one board mutation, records it on a span and
// emits a single structured log line when the request finishes.
type boardRequestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	start         time.Time
	authDuration  time.Duration
	storeDuration time.Duration
	projectID     string
	taskID        string
	replayed      bool
	errorStage    string
}

func newBoardRequestMetrics(ctx context.Context, logger *log.Logger, route string) (*boardRequestMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, route, trace.WithSpanKind(trace.SpanKindServer))
	return &boardRequestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		start:  time.Now(),
	}, spanCtx
}

func (m *boardRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *boardRequestMetrics) ObserveStore(d time.Duration) {
	if d > 0 {
		m.storeDuration = d
	}
}

func (m *boardRequestMetrics) SetProject(id string) { m.projectID = id }

func (m *boardRequestMetrics) SetTask(id string) { m.taskID = id }

func (m *boardRequestMetrics) SetReplayed(replayed bool) { m.replayed = replayed }

func (m *boardRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

func (m *boardRequestMetrics) attributes(status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.Int("http.response.status_code", status),
		attribute.Float64("tandem.board.total_ms", durationToMillis(time.Since(m.start))),
		attribute.Bool("tandem.board.replayed", m.replayed),
	}
	if m.projectID != "" {
		attrs = append(attrs, attribute.String("tandem.project.id", m.projectID))
	}
	if m.taskID != "" {
		attrs = append(attrs, attribute.String("tandem.task.id", m.taskID))
	}
	if m.authDuration > 0 {
		attrs = append(attrs, attribute.Float64("tandem.board.auth_ms", durationToMillis(m.authDuration)))
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64("tandem.board.store_ms", durationToMillis(m.storeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("tandem.board.error_stage", m.errorStage))
	}
	return attrs
}

// Log ends the span and writes the request summary.
func (m *boardRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := m.attributes(status)
	if m.span != nil {
		m.span.SetAttributes(attrs...)
		if err != nil {
			m.span.RecordError(err)
		}
		if err != nil || status >= http.StatusInternalServerError {
			m.span.SetStatus(codes.Error, http.StatusText(status))
		}
		m.span.End()
	}
	if m.logger == nil {
		return
	}

	severity, number := severityForStatus(status, err)
	logged := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		logged[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      boardEventName,
		"event.domain":    boardEventDomain,
		"severity_text":   severity,
		"severity_number": number,
		"attributes":      logged,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	switch severity {
	case "ERROR":
		entry.Error(observabilityLine)
	case "WARN":
		entry.Warn(observabilityLine)
	default:
		entry.Info(observabilityLine)
	}
}

// severityForStatus follows the OpenTelemetry log severity numbers.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	case err != nil:
		return "ERROR", 17
	}
	return "INFO", 9
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
