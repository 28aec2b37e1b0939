package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "coderev"

// TracingConfig selects the span exporter. Exporter is "otlp" (HTTP) or
// "zipkin"; SampleRate outside (0, 1] means sample everything.
type TracingConfig struct {
	Enabled        bool
	Exporter       string
	Endpoint       string
	SampleRate     float64
	ServiceName    string
	ServiceVersion string
}

// TracerProvider owns the SDK provider when tracing is enabled. Its zero
// value and nil both trace nothing.
type TracerProvider struct {
	sdk        *sdktrace.TracerProvider
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NoopTracerProvider returns a provider whose spans are discarded.
func NoopTracerProvider() *TracerProvider {
	return &TracerProvider{}
}

// NewTracerProvider builds the exporter named in cfg and registers the
// provider and a W3C trace-context propagator globally.
func NewTracerProvider(cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return NoopTracerProvider(), nil
	}

	ctx := context.Background()
	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = instrumentationName
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}
	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)

	propagator := propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagator)

	return &TracerProvider{
		sdk:        sdk,
		tracer:     sdk.Tracer(instrumentationName),
		propagator: propagator,
	}, nil
}

func newSpanExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "", "otlp":
		var opts []otlptracehttp.Option
		switch endpoint := cfg.Endpoint; {
		case endpoint == "":
			opts = append(opts, otlptracehttp.WithEndpoint("localhost:4318"), otlptracehttp.WithInsecure())
		case strings.Contains(endpoint, "://"):
			opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
		default:
			opts = append(opts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
		}
		exporter, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		return exporter, nil
	case "zipkin":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err := zipkin.New(endpoint)
		if err != nil {
			return nil, fmt.Errorf("zipkin exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.sdk == nil {
		return nil
	}
	return tp.sdk.Shutdown(ctx)
}

// Tracer returns the SDK tracer, or a no-op tracer when tracing is off.
func (tp *TracerProvider) Tracer() trace.Tracer {
	if tp == nil || tp.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return tp.tracer
}

// StartSpan starts a new span tagged with the request ID from ctx.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		attrs = append(attrs, attribute.String(AttrRequestID, requestID))
	}
	return tp.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// InjectHeaders writes the trace context of ctx into outgoing headers.
func (tp *TracerProvider) InjectHeaders(ctx context.Context, header http.Header) {
	if tp == nil || tp.propagator == nil {
		return
	}
	tp.propagator.Inject(ctx, propagation.HeaderCarrier(header))
}

// Span names
const (
	SpanUpstreamComplete  = "upstream.complete"
	SpanUpstreamAttempt   = "upstream.attempt"
	SpanUpstreamHealth    = "upstream.health"
	SpanReview            = "review.review"
	SpanRefactor          = "review.refactor"
	SpanReviewAndRefactor = "review.review_and_refactor"
)

// Attribute keys
const (
	AttrRequestID     = "coderev.request_id"
	AttrModel         = "llm.model"
	AttrAttempt       = "llm.attempt"
	AttrStatusCode    = "http.status_code"
	AttrLanguage      = "code.language"
	AttrFocus         = "review.focus"
	AttrRecoveryLayer = "recovery.layer"
)
