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
	"sync"
	"sync/atomic"
	"time"

	"go.elastic.co/apm/module/apmzap/v2"
	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned from methods of closed Appenders.
var ErrClosed = errors.New("log appender closed")

// maxDrainPasses bounds the number of passes over the pending buffer made
// by Activate. Events appended during the last pass may be indexed after
// events appended once the appender is ready.
const maxDrainPasses = 8

// Appender ships log events to a backend index.
//
// Until Activate succeeds, appended events are held in an unbounded buffer.
// Activate creates the backend, indexes the buffered events in the order
// they were appended, and then marks the appender ready: from then on Append
// indexes each event directly, before returning.
//
// Append never returns an error. Indexing failures are logged to
// Config.Logger and counted in the appender metrics.
type Appender struct {
	config  Config
	mapper  *Mapper
	metrics metrics
	tracer  trace.Tracer

	// ready is the readiness flag. It flips to true once, with mu held,
	// after the pending buffer has been drained.
	ready   atomic.Bool
	closed  atomic.Bool
	shipper atomic.Pointer[shipper]

	// mu guards pending and the transitions of ready and closed.
	mu      sync.Mutex
	pending pendingBuffer

	activation singleflight.Group
	counters   counters
}

type counters struct {
	appended atomic.Int64
	buffered atomic.Int64
	pending  atomic.Int64
	shipped  atomic.Int64
	failed   atomic.Int64
	dropped  atomic.Int64
}

// Stats holds Appender statistics.
type Stats struct {
	// Appended holds the number of events passed to Append.
	Appended int64

	// Buffered holds the number of events buffered before the backend
	// was ready.
	Buffered int64

	// Pending holds the number of events currently buffered.
	Pending int64

	// Shipped holds the number of events successfully indexed.
	Shipped int64

	// Failed holds the number of events the backend failed to index.
	Failed int64

	// Dropped holds the number of events discarded because the appender
	// was closed.
	Dropped int64

	// Ready reports whether events are indexed directly.
	Ready bool
}

// New returns a new Appender in the buffering state.
func New(cfg Config) (*Appender, error) {
	cfg = DefaultConfig(cfg)
	ms, err := newMetrics(cfg)
	if err != nil {
		return nil, err
	}
	a := &Appender{
		config:  cfg,
		mapper:  NewMapper(cfg.Hostname),
		metrics: ms,
	}
	if cfg.TracerProvider != nil {
		a.tracer = cfg.TracerProvider.Tracer("github.com/elastic/go-logappender")
	}
	return a, nil
}

// Append captures e for indexing.
//
// Before the appender is ready, a snapshot of e is buffered and Append
// returns immediately. Once ready, e is indexed before Append returns,
// bounded by Config.ShipTimeout. After Close, e is dropped.
//
// If e.Time is zero, it is set to the current time.
func (a *Appender) Append(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	attrs := metric.WithAttributeSet(a.config.MetricAttributes)
	a.counters.appended.Add(1)
	a.metrics.eventsAppended.Add(context.Background(), 1, attrs)

	if a.closed.Load() {
		a.dropClosed(e)
		return
	}
	if a.ready.Load() {
		a.ship(e)
		return
	}

	a.mu.Lock()
	if a.closed.Load() {
		a.mu.Unlock()
		a.dropClosed(e)
		return
	}
	if !a.ready.Load() {
		a.pending.enqueue(e.snapshot())
		a.mu.Unlock()
		a.counters.buffered.Add(1)
		a.counters.pending.Add(1)
		a.metrics.eventsBuffered.Add(context.Background(), 1, attrs)
		a.metrics.eventsPending.Add(context.Background(), 1, attrs)
		return
	}
	// The buffer was drained while we waited for the lock.
	a.mu.Unlock()
	a.ship(e)
}

// ship indexes e directly. Events racing Close are dropped here rather
// than sent to a closing backend.
func (a *Appender) ship(e Event) {
	if a.closed.Load() {
		a.dropClosed(e)
		return
	}
	doc := a.mapper.Map(e)
	a.shipper.Load().ship(&doc)
}

func (a *Appender) dropClosed(e Event) {
	a.drop(1)
	a.config.Logger.Debug("dropping log event, appender closed",
		zap.String("event.level", e.Level.String()),
		zap.String("event.logger", e.Logger),
	)
}

func (a *Appender) drop(n int) {
	a.counters.dropped.Add(int64(n))
	a.metrics.eventsShipped.Add(context.Background(), int64(n),
		metric.WithAttributeSet(a.config.MetricAttributes),
		metric.WithAttributes(attribute.String("status", "Dropped")),
	)
}

// Activate creates the backend from cfg, indexes every buffered event in
// the order it was appended, and marks the appender ready.
//
// Configuration and connection errors are returned and leave the appender
// buffering; Activate may be called again. Concurrent calls share a single
// activation, and calls made once the appender is ready return nil without
// creating another backend. Activate does not retry; see PollBackendConfig.
func (a *Appender) Activate(ctx context.Context, cfg BackendConfig) error {
	if a.closed.Load() {
		return ErrClosed
	}
	if a.ready.Load() {
		return nil
	}
	_, err, _ := a.activation.Do("activate", func() (any, error) {
		return nil, a.activate(ctx, cfg)
	})
	return err
}

func (a *Appender) activate(ctx context.Context, cfg BackendConfig) (err error) {
	if a.shipper.Load() != nil {
		// A previous activation installed the backend.
		return nil
	}
	ctx, finish := a.startActivation(ctx)
	defer func() { finish(err) }()
	logger := a.config.Logger.With(apmzap.TraceContext(ctx)...)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid backend configuration, events remain buffered", zap.Error(err))
		return err
	}
	backend, err := a.config.NewBackend(ctx, cfg)
	if err != nil {
		logger.Error("failed to create backend, events remain buffered",
			zap.Error(err),
			zap.String("url", cfg.URL),
			zap.String("index", cfg.Index),
		)
		return fmt.Errorf("failed to create backend: %w", err)
	}
	s := &shipper{
		backend:  backend,
		index:    cfg.Index,
		timeout:  a.config.ShipTimeout,
		logger:   a.config.Logger,
		tracer:   a.tracer,
		metrics:  &a.metrics,
		attrs:    a.config.MetricAttributes,
		counters: &a.counters,
	}

	a.mu.Lock()
	if a.closed.Load() {
		a.mu.Unlock()
		if err := backend.Close(ctx); err != nil {
			logger.Error("failed to close backend", zap.Error(err))
		}
		return ErrClosed
	}
	a.shipper.Store(s)
	a.mu.Unlock()

	drained := a.drain(s)
	logger.Info("backend activated",
		zap.String("index", cfg.Index),
		zap.Int("events_drained", drained),
	)
	return nil
}

// startActivation traces the activation with the configured tracers. The
// returned function ends the trace with the activation result.
func (a *Appender) startActivation(ctx context.Context) (context.Context, func(error)) {
	var tx *apm.Transaction
	if a.config.Tracer != nil {
		tx = a.config.Tracer.StartTransaction("logappender.activate", "output")
		ctx = apm.ContextWithTransaction(ctx, tx)
	}
	var span trace.Span
	if a.tracer != nil {
		ctx, span = a.tracer.Start(ctx, "logappender.activate")
	}
	return ctx, func(err error) {
		status := "Success"
		if err != nil {
			status = "Failed"
		}
		a.metrics.activations.Add(context.Background(), 1,
			metric.WithAttributeSet(a.config.MetricAttributes),
			metric.WithAttributes(attribute.String("status", status)),
		)
		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "activation failed")
			} else {
				span.SetStatus(codes.Ok, "")
			}
			span.End()
		}
		if tx != nil {
			tx.Result = status
			if err != nil {
				e := a.config.Tracer.NewError(err)
				e.SetTransaction(tx)
				e.Send()
			}
			tx.End()
		}
	}
}

// drain indexes the pending buffer in passes until a pass finds it empty,
// then flips the readiness flag under the same lock acquisition. Events are
// indexed without holding the lock.
//
// The backend is used by drain before the flag flips, so that every buffered
// event is indexed before any event shipped directly by Append. Append
// itself never uses the backend before the flag is true. After
// maxDrainPasses the flag flips together with the last batch.
func (a *Appender) drain(s *shipper) int {
	attrs := metric.WithAttributeSet(a.config.MetricAttributes)
	var drained int
	for pass := 1; ; pass++ {
		a.mu.Lock()
		events := a.pending.drainAll()
		last := len(events) == 0 || pass >= maxDrainPasses
		if last {
			a.ready.Store(true)
		}
		a.mu.Unlock()

		if n := int64(len(events)); n > 0 {
			a.counters.pending.Add(-n)
			a.metrics.eventsPending.Add(context.Background(), -n, attrs)
		}
		for _, e := range events {
			if a.closed.Load() {
				a.drop(1)
				continue
			}
			doc := a.mapper.Map(e)
			s.ship(&doc)
			drained++
		}
		if last {
			return drained
		}
	}
}

// Ready reports whether the appender indexes events directly.
func (a *Appender) Ready() bool {
	return a.ready.Load()
}

// Stats returns the appender statistics.
func (a *Appender) Stats() Stats {
	return Stats{
		Appended: a.counters.appended.Load(),
		Buffered: a.counters.buffered.Load(),
		Pending:  a.counters.pending.Load(),
		Shipped:  a.counters.shipped.Load(),
		Failed:   a.counters.failed.Load(),
		Dropped:  a.counters.dropped.Load(),
		Ready:    a.ready.Load(),
	}
}

// Close closes the appender and releases the backend connection.
//
// Events still buffered are discarded. Events appended after Close are
// dropped. An Append that passed its final closed check just before Close
// may still be indexed while the backend is closing; it is then either
// indexed or counted as failed. Closing an appender that was never activated, or closing it more
// than once, is a no-op. A failure to close the backend is logged and
// returned.
func (a *Appender) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed.Load() {
		a.mu.Unlock()
		return nil
	}
	a.closed.Store(true)
	discarded := a.pending.drainAll()
	s := a.shipper.Load()
	a.mu.Unlock()

	if n := len(discarded); n > 0 {
		a.counters.pending.Add(-int64(n))
		a.metrics.eventsPending.Add(context.Background(), -int64(n),
			metric.WithAttributeSet(a.config.MetricAttributes),
		)
		a.drop(n)
		a.config.Logger.Warn("discarding buffered log events on close", zap.Int("events", n))
	}
	if s == nil {
		return nil
	}
	if err := s.backend.Close(ctx); err != nil {
		a.config.Logger.Error("failed to close backend", zap.Error(err))
		return fmt.Errorf("failed to close backend: %w", err)
	}
	return nil
}
