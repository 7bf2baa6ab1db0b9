// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package logappender

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// maxLoggedMessage bounds the part of a failed event's message that is
// logged.
const maxLoggedMessage = 256

// shipper indexes documents one at a time. A failure is logged and counted,
// and never returned: it must not affect other events or the caller.
type shipper struct {
	backend  Backend
	index    string
	timeout  time.Duration
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *metrics
	attrs    attribute.Set
	counters *counters
}

// ship sends doc to the backend and reports whether it was indexed.
func (s *shipper) ship(doc *Document) (indexed bool) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(doc, fmt.Errorf("panic while indexing document: %v", r))
			indexed = false
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	logger := s.logger
	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "logappender.ship", trace.WithAttributes(
			attribute.String("index", s.index),
		))
		defer span.End()
		logger = logger.With(
			zap.String("traceId", span.SpanContext().TraceID().String()),
			zap.String("spanId", span.SpanContext().SpanID().String()),
		)
	}

	took := timeFunc(func() {
		err := s.backend.Index(ctx, s.index, doc)
		if err != nil {
			if span != nil && span.IsRecording() {
				span.RecordError(err)
				span.SetStatus(codes.Error, "index request failed")
			}
			s.failWith(logger, doc, err)
			return
		}
		indexed = true
	})
	s.metrics.shipDuration.Record(context.Background(), took.Seconds(),
		metric.WithAttributeSet(s.attrs),
	)
	if !indexed {
		return false
	}
	if span != nil && span.IsRecording() {
		span.SetStatus(codes.Ok, "")
	}
	s.counters.shipped.Add(1)
	s.metrics.eventsShipped.Add(context.Background(), 1,
		metric.WithAttributeSet(s.attrs),
		metric.WithAttributes(attribute.String("status", "Success")),
	)
	return true
}

func (s *shipper) fail(doc *Document, err error) {
	s.failWith(s.logger, doc, err)
}

func (s *shipper) failWith(logger *zap.Logger, doc *Document, err error) {
	s.counters.failed.Add(1)
	attrs := []attribute.KeyValue{attribute.String("status", "Failed")}
	var indexErr *IndexError
	if errors.As(err, &indexErr) {
		attrs = append(attrs, semconv.HTTPResponseStatusCode(indexErr.StatusCode))
	}
	s.metrics.eventsShipped.Add(context.Background(), 1,
		metric.WithAttributeSet(s.attrs),
		metric.WithAttributes(attrs...),
	)
	message := doc.Message
	if len(message) > maxLoggedMessage {
		message = message[:maxLoggedMessage] + "..."
	}
	logger.Error("failed to index log event",
		zap.Error(err),
		zap.String("index", s.index),
		zap.String("event.level", doc.Level),
		zap.String("event.logger", doc.Logger),
		zap.String("event.message", message),
	)
}

func timeFunc(f func()) time.Duration {
	t0 := time.Now()
	if f != nil {
		f()
	}
	return time.Since(t0)
}
