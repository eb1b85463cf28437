// Copyright 2025 The Workflow Authors
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

package tracing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/ejc3/workflow/internal/queue"
)

// Dispatcher instruments queue handlers with consumer spans and dispatch
// metrics recorded through the OTel meter.
type Dispatcher struct {
	tracer     trace.Tracer
	dispatches metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewDispatcher creates a Dispatcher on the global tracer and meter.
func NewDispatcher() (*Dispatcher, error) {
	meter := Meter()

	dispatches, err := meter.Int64Counter(
		"workflow_dispatches_total",
		metric.WithDescription("Total number of job dispatches"),
		metric.WithUnit("{dispatch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch counter: %w", err)
	}

	duration, err := meter.Float64Histogram(
		"workflow_dispatch_duration_seconds",
		metric.WithDescription("Job dispatch duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch histogram: %w", err)
	}

	return &Dispatcher{
		tracer:     Tracer(),
		dispatches: dispatches,
		duration:   duration,
	}, nil
}

// Wrap returns a handler that runs h inside a consumer span carrying the
// queue name, message id, and attempt. A correlation ID is minted for the
// dispatch when the context has none, so the handler's outbound requests
// and logs correlate with the job.
func (d *Dispatcher) Wrap(h queue.Handler) queue.Handler {
	return func(ctx context.Context, name string, msg queue.MessageData) error {
		if FromContextOrEmpty(ctx) == "" {
			ctx = ToContext(ctx, NewCorrelationID())
		}

		ctx, span := d.tracer.Start(ctx, fmt.Sprintf("queue.dispatch: %s", name),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("queue.name", name),
				attribute.String("queue.message_id", msg.MessageID),
				attribute.Int("queue.attempt", msg.Attempt),
			),
		)
		defer span.End()

		start := time.Now()
		err := h(ctx, name, msg)

		attrs := metric.WithAttributes(attribute.String("queue.kind", queueKind(name)))
		d.dispatches.Add(ctx, 1, attrs)
		d.duration.Record(ctx, time.Since(start).Seconds(), attrs)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}

// queueKind reduces a caller-facing queue name to a bounded metric label.
func queueKind(name string) string {
	if strings.HasPrefix(name, queue.StepQueuePrefix) {
		return "step"
	}
	return "workflow"
}
