// Package tracing sets up the OpenTelemetry tracer provider of the server and
// starts the spans requests and background work run under.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http/httpproxy"
)

const (
	tracerName = "github.com/draftcode/ijaas"

	DefaultServiceName = "ijaas"

	exportTimeout = 10 * time.Second
)

// Options is the tracing section of the server settings.
type Options struct {
	EnableJaeger   bool
	JaegerEndpoint string
	// ServiceName is reported as service.name. Empty means
	// DefaultServiceName.
	ServiceName string
	// Version is the server build, reported as service.version.
	Version string
	// HTTPProxy routes collector traffic through a proxy. When empty the
	// proxy environment variables apply.
	HTTPProxy string
	NoProxy   string
}

func (o Options) serviceName() string {
	if o.ServiceName == "" {
		return DefaultServiceName
	}
	return o.ServiceName
}

func (o Options) resource() *resource.Resource {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(o.serviceName())}
	if o.Version != "" {
		attrs = append(attrs, semconv.ServiceVersionKey.String(o.Version))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func (o Options) proxyConfig() *httpproxy.Config {
	if o.HTTPProxy == "" {
		return httpproxy.FromEnvironment()
	}
	return &httpproxy.Config{
		HTTPProxy:  o.HTTPProxy,
		HTTPSProxy: o.HTTPProxy,
		NoProxy:    o.NoProxy,
	}
}

// collectorClient is the HTTP client spans are exported with.
func (o Options) collectorClient() *http.Client {
	proxy := o.proxyConfig().ProxyFunc()
	return &http.Client{
		Timeout: exportTimeout,
		Transport: &http.Transport{
			Proxy: func(req *http.Request) (*url.URL, error) {
				return proxy(req.URL)
			},
		},
	}
}

func (o Options) providerOptions(log logr.Logger) ([]tracesdk.TracerProviderOption, error) {
	opts := []tracesdk.TracerProviderOption{
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
		tracesdk.WithResource(o.resource()),
	}
	if !o.EnableJaeger {
		return opts, nil
	}
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(
		jaeger.WithEndpoint(o.JaegerEndpoint),
		jaeger.WithHTTPClient(o.collectorClient()),
	))
	if err != nil {
		return nil, fmt.Errorf("jaeger exporter for %s: %w", o.JaegerEndpoint, err)
	}
	log.V(3).Info("exporting traces", "endpoint", o.JaegerEndpoint, "service", o.serviceName())
	return append(opts, tracesdk.WithBatcher(exp)), nil
}

// InitTracerProvider installs the global tracer provider. Spans are only
// exported when Jaeger is enabled.
func InitTracerProvider(log logr.Logger, o Options) (*tracesdk.TracerProvider, error) {
	opts, err := o.providerOptions(log)
	if err != nil {
		log.Error(err, "failed to create jaeger exporter")
		return nil, err
	}
	tp := tracesdk.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Shutdown flushes pending spans, giving up after five seconds.
func Shutdown(ctx context.Context, log logr.Logger, tp *tracesdk.TracerProvider) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		log.Error(err, "error shutting down tracer provider")
	}
}

func StartNewSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartRequestSpan starts the span that covers one dispatched request.
func StartRequestSpan(ctx context.Context, protocol, method string, id interface{}) (context.Context, trace.Span) {
	return StartNewSpan(ctx, protocol+"/"+method,
		attribute.Key("rpc.system").String(protocol),
		attribute.Key("rpc.method").String(method),
		attribute.Key("rpc.id").String(idString(id)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func idString(id interface{}) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(id)
}
