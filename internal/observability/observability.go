// Copyright 2025 Kadir Pekel
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

// Package observability wires the self-improvement loop's cycle
// counters, circuit-breaker state gauge, and invocation latency
// histogram into an OpenTelemetry meter backed by a Prometheus
// exporter, the way pkg/observability wires agent/LLM/tool metrics for
// the original framework.
package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Recorder exposes the instruments the self-improvement loop and the
// foreground tool-call path emit into.
type Recorder struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	cyclesTotal       metric.Int64Counter
	cyclesBlocked     metric.Int64Counter
	actionsExecuted   metric.Int64Counter
	actionsFailed     metric.Int64Counter
	breakerState      metric.Int64Gauge
	invocationLatency metric.Float64Histogram
}

// New builds a Recorder backed by a fresh Prometheus registry. Handler
// returns the /metrics http.Handler to mount on the serving mux.
func New() (*Recorder, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("github.com/reasonloop/reasonloop/selfimprove")

	r := &Recorder{provider: provider, registry: registry}

	if r.cyclesTotal, err = meter.Int64Counter("si_cycles_total",
		metric.WithDescription("self-improvement cycles run")); err != nil {
		return nil, err
	}
	if r.cyclesBlocked, err = meter.Int64Counter("si_cycles_blocked_total",
		metric.WithDescription("self-improvement cycles blocked by the circuit breaker")); err != nil {
		return nil, err
	}
	if r.actionsExecuted, err = meter.Int64Counter("si_actions_executed_total",
		metric.WithDescription("self-improvement actions completed successfully")); err != nil {
		return nil, err
	}
	if r.actionsFailed, err = meter.Int64Counter("si_actions_failed_total",
		metric.WithDescription("self-improvement actions that failed validation or execution")); err != nil {
		return nil, err
	}
	if r.breakerState, err = meter.Int64Gauge("si_circuit_breaker_state",
		metric.WithDescription("circuit breaker state: 0=closed, 1=half_open, 2=open")); err != nil {
		return nil, err
	}
	if r.invocationLatency, err = meter.Float64Histogram("invocation_latency_ms",
		metric.WithDescription("tool invocation latency in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}

	return r, nil
}

// Handler returns the Prometheus exposition endpoint for this
// Recorder's registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) RecordCycle(ctx context.Context, blocked bool) {
	r.cyclesTotal.Add(ctx, 1)
	if blocked {
		r.cyclesBlocked.Add(ctx, 1)
	}
}

func (r *Recorder) RecordAction(ctx context.Context, success bool) {
	if success {
		r.actionsExecuted.Add(ctx, 1)
	} else {
		r.actionsFailed.Add(ctx, 1)
	}
}

// BreakerStateCode maps a breaker state name to the gauge's encoding.
func BreakerStateCode(state string) int64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

func (r *Recorder) RecordBreakerState(ctx context.Context, code int64) {
	r.breakerState.Record(ctx, code)
}

func (r *Recorder) RecordInvocationLatency(ctx context.Context, tool string, latencyMs float64) {
	r.invocationLatency.Record(ctx, latencyMs, metric.WithAttributes(attribute.String("tool", tool)))
}

// Shutdown flushes and stops the underlying meter provider.
func (r *Recorder) Shutdown(ctx context.Context) error {
	return r.provider.Shutdown(ctx)
}
