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

package logappender_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/v2"
	"go.elastic.co/apm/v2/apmtest"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/elastic/go-logappender"
)

func TestHandler(t *testing.T) {
	a, recorder := newReadyAppender(t)
	logger := slog.New(logappender.NewHandler(a, &logappender.HandlerOptions{
		Level:  slog.LevelInfo,
		Logger: "checkout",
	})).With("thread", "http-7", "region", "eu")

	logger.Debug("filtered")
	logger.WithGroup("order").Info("order placed", "id", 7, slog.Group("total", "amount", 9.5, "currency", "EUR"))
	logger.Error("payment failed", "error", errors.New("card declined"), "took", 250*time.Millisecond)

	indexed := recorder.Indexed()
	require.Len(t, indexed, 2)

	first := indexed[0]
	assert.Equal(t, "INFO", first.Field("level"))
	assert.Equal(t, "checkout", first.Field("logger"))
	assert.Equal(t, "http-7", first.Field("thread"))
	assert.Equal(t, map[string]any{
		"region":               "eu",
		"order.id":             float64(7),
		"order.total.amount":   9.5,
		"order.total.currency": "EUR",
	}, first.Field("labels"))

	second := indexed[1]
	assert.Equal(t, "ERROR", second.Field("level"))
	assert.Equal(t, "card declined", second.Field("error").(map[string]any)["message"])
	assert.Equal(t, map[string]any{"region": "eu", "took": "250ms"}, second.Field("labels"))
}

func TestHandlerGroupedAttrs(t *testing.T) {
	a, recorder := newReadyAppender(t)
	logger := slog.New(logappender.NewHandler(a, nil)).
		WithGroup("request").
		With("method", "GET").
		WithGroup("headers").
		With("accept", "json")

	logger.Debug("served", "status", 200)

	indexed := recorder.Indexed()
	require.Len(t, indexed, 1)
	assert.Equal(t, "DEBUG", indexed[0].Field("level"))
	assert.Equal(t, map[string]any{
		"request.method":         "GET",
		"request.headers.accept": "json",
		"request.headers.status": float64(200),
	}, indexed[0].Field("labels"))
}

func TestHandlerLevels(t *testing.T) {
	a, recorder := newReadyAppender(t)
	logger := slog.New(logappender.NewHandler(a, &logappender.HandlerOptions{Level: slog.Level(-8)}))
	for _, level := range []slog.Level{-8, slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError, slog.LevelError + 4} {
		logger.Log(context.Background(), level, "m")
	}
	var levels []any
	for _, doc := range recorder.Indexed() {
		levels = append(levels, doc.Field("level"))
	}
	assert.Equal(t, []any{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL"}, levels)
}

func TestHandlerOtelTraceContext(t *testing.T) {
	a, recorder := newReadyAppender(t)
	logger := slog.New(logappender.NewHandler(a, nil))

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "request")
	logger.InfoContext(ctx, "traced")
	span.End()
	logger.Info("untraced")

	indexed := recorder.Indexed()
	require.Len(t, indexed, 2)
	assert.Equal(t, span.SpanContext().TraceID().String(), indexed[0].Field("trace.id"))
	assert.Equal(t, span.SpanContext().SpanID().String(), indexed[0].Field("span.id"))
	assert.Nil(t, indexed[1].Field("trace.id"))
}

func TestHandlerAPMTraceContext(t *testing.T) {
	a, recorder := newReadyAppender(t)
	logger := slog.New(logappender.NewHandler(a, nil))

	tracer := apmtest.NewRecordingTracer()
	defer tracer.Close()
	tx := tracer.StartTransaction("GET /", "request")
	ctx := apm.ContextWithTransaction(context.Background(), tx)
	logger.InfoContext(ctx, "traced")
	tx.End()

	indexed := recorder.Indexed()
	require.Len(t, indexed, 1)
	traceID := tx.TraceContext().Trace
	assert.Equal(t, traceID.String(), indexed[0].Field("trace.id"))
	assert.Equal(t, tx.TraceContext().Span.String(), indexed[0].Field("span.id"))
}
