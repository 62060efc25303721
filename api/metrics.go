package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "task-api/api"
	requestSpanName    = "tasks.request"
	requestMessage     = "tasks.request"
	requestMetricsKey  = "task.metrics"
	attrPrefix         = "tasks."
	severityInfoText   = "INFO"
	severityWarnText   = "WARN"
	severityErrorText  = "ERROR"
	severityInfoNumber = 9
	severityWarnNumber = 13
	severityErrNumber  = 17
)

type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	start         time.Time
	method        string
	route         string
	storeDuration time.Duration
	tasksReturned int
	errorStage    string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
	return &requestMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
		method: method,
		route:  route,
	}, ctx
}

// requestMetricsFrom returns the metrics attached by requestLogger, or nil.
// Every method is safe on a nil receiver.
func requestMetricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(requestMetricsKey).(*requestMetrics)
	return m
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.storeDuration += duration
}

func (m *requestMetrics) SetTasksReturned(count int) {
	if m == nil {
		return
	}
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
}

func (m *requestMetrics) Log(status int, requestID string, err error) {
	if m == nil {
		return
	}
	total := durationToMillis(time.Since(m.start))
	text, number := severityForStatus(status, err)

	attrs := []attribute.KeyValue{
		attribute.String("http.method", m.method),
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.Float64(attrPrefix+"total_ms", total),
		attribute.Int(attrPrefix+"tasks_returned", m.tasksReturned),
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"store_ms", durationToMillis(m.storeDuration)))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"error_stage", m.errorStage))
	}

	if m.span != nil {
		eventAttrs := append([]attribute.KeyValue{attribute.String("severity_text", text)}, attrs...)
		if err != nil {
			eventAttrs = append(eventAttrs, attribute.String("error.message", err.Error()))
		}
		m.span.SetAttributes(attrs...)
		m.span.AddEvent(requestMessage, trace.WithAttributes(eventAttrs...))
		if status >= http.StatusInternalServerError {
			desc := http.StatusText(status)
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
		"method":          m.method,
		"route":           m.route,
		"status":          status,
		"total_ms":        total,
		"tasks_returned":  m.tasksReturned,
		"severity_text":   text,
		"severity_number": number,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if m.storeDuration > 0 {
		fields["store_ms"] = durationToMillis(m.storeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}

	entry := m.logger.WithFields(fields)
	switch number {
	case severityErrNumber:
		entry.Error(requestMessage)
	case severityWarnNumber:
		entry.Warn(requestMessage)
	default:
		entry.Info(requestMessage)
	}
}

func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError || (status == 0 && err != nil):
		return severityErrorText, severityErrNumber
	case status >= http.StatusBadRequest:
		return severityWarnText, severityWarnNumber
	}
	return severityInfoText, severityInfoNumber
}

// requestLogger times each request, hands errors to the echo error handler so
// the final status is known, then emits one log entry and span per request.
func requestLogger(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			m, ctx := newRequestMetrics(req.Context(), logger, req.Method, c.Path())
			c.SetRequest(req.WithContext(ctx))
			c.Set(requestMetricsKey, m)

			err := next(c)
			if err != nil {
				c.Error(err)
			}
			res := c.Response()
			m.Log(res.Status, res.Header().Get(echo.HeaderXRequestID), err)
			return nil
		}
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
