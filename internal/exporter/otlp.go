// Copyright 2025 AgentLens Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package exporter

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentlens/agentlens/internal/config"
	"github.com/agentlens/agentlens/internal/event"
)

// OTLP re-emits captured events as OpenTelemetry spans, one span per event,
// grouped into one trace per run. It is an optional alternative to the
// storage exporter for deployments that already run an OTLP collector.
type OTLP struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewOTLP creates an unstarted OTLP exporter; the transport is dialed in
// Initialize from the configuration.
func NewOTLP() *OTLP {
	return &OTLP{}
}

// Initialize dials the configured OTLP endpoint.
func (o *OTLP) Initialize(ctx context.Context, cfg *config.Config) error {
	exp, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return err
	}

	res := sdkresource.NewSchemaless(
		attribute.String("service.name", "agentlens"),
	)

	// The trace worker already batches; a syncer avoids double buffering.
	o.provider = sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exp),
		sdktrace.WithResource(res),
	)
	o.tracer = o.provider.Tracer("github.com/agentlens/agentlens")
	return nil
}

func newSpanExporter(ctx context.Context, cfg *config.Config) (sdktrace.SpanExporter, error) {
	switch cfg.OTLPProtocol {
	case "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create OTLP gRPC exporter: %w", err)
		}
		return exp, nil

	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		} else {
			opts = append(opts, otlptracehttp.WithTLSClientConfig(&tls.Config{
				MinVersion: tls.VersionTLS12,
			}))
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create OTLP HTTP exporter: %w", err)
		}
		return exp, nil

	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		return exp, nil

	default:
		return nil, fmt.Errorf("unknown OTLP protocol %q", cfg.OTLPProtocol)
	}
}

// ExportBatch converts each event into a completed span with explicit
// timestamps and pushes it through the OTel SDK.
func (o *OTLP) ExportBatch(ctx context.Context, events []*event.Event) error {
	if o.tracer == nil {
		return fmt.Errorf("otlp exporter not initialized")
	}

	for _, ev := range events {
		start := time.UnixMilli(ev.TimestampMS)
		end := start
		if ev.DurationMS > 0 {
			end = start.Add(time.Duration(ev.DurationMS) * time.Millisecond)
		}

		_, span := o.tracer.Start(ctx, spanName(ev),
			trace.WithTimestamp(start),
			trace.WithSpanKind(trace.SpanKindInternal),
		)

		attrs := []attribute.KeyValue{
			attribute.String("agentlens.run_id", ev.RunID),
			attribute.Int64("agentlens.event_id", ev.EventID),
			attribute.String("agentlens.event_type", string(ev.Type)),
		}
		if ev.ParentEventID != 0 {
			attrs = append(attrs, attribute.Int64("agentlens.parent_event_id", ev.ParentEventID))
		}
		if ev.Payload != nil {
			if data, err := json.Marshal(ev.Document()["payload"]); err == nil {
				attrs = append(attrs, attribute.String("agentlens.payload", string(data)))
			}
		}
		span.SetAttributes(attrs...)

		if ev.Status == event.StatusError {
			span.SetStatus(codes.Error, ev.Name)
		} else {
			span.SetStatus(codes.Ok, "")
		}

		span.End(trace.WithTimestamp(end))
	}
	return nil
}

func spanName(ev *event.Event) string {
	if ev.Name != "" {
		return string(ev.Type) + " " + ev.Name
	}
	return string(ev.Type)
}

// Shutdown flushes and stops the provider. Safe to call more than once.
func (o *OTLP) Shutdown(ctx context.Context) error {
	if o.provider == nil {
		return nil
	}
	provider := o.provider
	o.provider = nil
	return provider.Shutdown(ctx)
}
