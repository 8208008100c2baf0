package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
)

// OTelObserver emits orchestration events as OpenTelemetry log records on
// the global LoggerProvider, alongside SlogObserver's plain structured
// logging.
//
// Call an OTLP exporter's setup (otlploghttp, a stdout exporter, etc.) and
// global.SetLoggerProvider before constructing one, the way
// observer.Init does in the agent-runtime examples this is modeled on;
// with no provider configured, records go to OTEL's no-op backend.
//
// Example:
//
//	observer := observability.NewOTelObserver("github.com/tailored-agentic-units/procrt")
//	cfg := process.Config{Observer: observer}
type OTelObserver struct {
	logger otellog.Logger
	tracer trace.Tracer
}

// NewOTelObserver returns an Observer backed by the global OTel
// LoggerProvider's Logger and TracerProvider's Tracer for the given
// instrumentation scope name.
func NewOTelObserver(scopeName string) *OTelObserver {
	return &OTelObserver{
		logger: global.GetLoggerProvider().Logger(scopeName),
		tracer: otel.Tracer(scopeName),
	}
}

// OnEvent emits event as a structured OTel log record — type and source
// as string attributes, timestamp as the record's observed time, and
// Data's entries flattened into attributes via fmt.Sprint (Data is
// execution telemetry, never application payloads, so string coercion
// loses nothing worth preserving as a distinct OTel attribute kind) —
// and records it as a zero-duration span event on the current trace, so
// a process's event sequence shows up alongside any span a caller has
// already started around the operation driving it.
func (o *OTelObserver) OnEvent(ctx context.Context, event Event) {
	var rec otellog.Record
	rec.SetTimestamp(event.Timestamp)
	rec.SetObservedTimestamp(event.Timestamp)
	rec.SetSeverity(otelSeverity(event.Level))
	rec.SetSeverityText(event.Level.String())
	rec.SetBody(otellog.StringValue(string(event.Type)))

	attrs := make([]otellog.KeyValue, 0, len(event.Data)+2)
	attrs = append(attrs, otellog.String("event.type", string(event.Type)))
	attrs = append(attrs, otellog.String("event.source", event.Source))
	for k, v := range event.Data {
		attrs = append(attrs, otellog.String(k, fmt.Sprint(v)))
	}
	rec.AddAttributes(attrs...)

	o.logger.Emit(ctx, rec)

	spanAttrs := make([]attribute.KeyValue, 0, len(event.Data)+1)
	spanAttrs = append(spanAttrs, attribute.String("event.source", event.Source))
	for k, v := range event.Data {
		spanAttrs = append(spanAttrs, attribute.String(k, fmt.Sprint(v)))
	}

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		// A caller already has a span open around whatever drove this
		// event; attach it there instead of opening a new one.
		span.AddEvent(string(event.Type), trace.WithAttributes(spanAttrs...))
		return
	}
	_, span := o.tracer.Start(ctx, string(event.Type), trace.WithAttributes(spanAttrs...))
	span.End()
}

// otelSeverity maps our Level (OTel SeverityNumber ranges 1-24) onto the
// named otellog.Severity constants, which partition the same ranges into
// four steps per band (e.g. SeverityDebug1..SeverityDebug4).
func otelSeverity(l Level) otellog.Severity {
	switch {
	case l <= 4:
		return otellog.SeverityTrace
	case l <= 8:
		return otellog.SeverityDebug
	case l <= 12:
		return otellog.SeverityInfo
	case l <= 16:
		return otellog.SeverityWarn
	case l <= 20:
		return otellog.SeverityError
	default:
		return otellog.SeverityFatal
	}
}
