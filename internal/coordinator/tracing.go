/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package coordinator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer wraps an OpenTelemetry trace.Tracer with the handful of spans the
// coordinator opens: one per registration call and one per recovery
// attempt. A nil *tracer degrades every method to a no-op span, so callers
// never have to check whether tracing is configured.
type tracer struct {
	delegate trace.Tracer
}

// NewTracer wraps t for use by a Coordinator. Pass the result of
// otel.Tracer("...") from whatever TracerProvider the surrounding
// application configured; this package does not set up exporters itself.
func NewTracer(t trace.Tracer) *tracer {
	return &tracer{delegate: t}
}

func (t *tracer) startRegistration(ctx context.Context, kind, stream string) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.delegate.Start(ctx, "coordinator.register",
		trace.WithAttributes(
			attribute.String("coordinator.kind", kind),
			attribute.String("coordinator.stream", stream),
		))
}

func (t *tracer) startRecoveryAttempt(ctx context.Context, trigger string, attempt int) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.delegate.Start(ctx, "coordinator.recovery_attempt",
		trace.WithAttributes(
			attribute.String("coordinator.trigger", trigger),
			attribute.Int("coordinator.attempt", attempt),
		))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
