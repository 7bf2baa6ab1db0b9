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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	eventsAppended metric.Int64Counter
	eventsBuffered metric.Int64Counter
	eventsPending  metric.Int64UpDownCounter
	eventsShipped  metric.Int64Counter
	activations    metric.Int64Counter
	shipDuration   metric.Float64Histogram
}

type histogramMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Float64Histogram
}

type counterMetric struct {
	name        string
	description string
	unit        string
	p           *metric.Int64Counter
}

func newMetrics(cfg Config) (metrics, error) {
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	meter := cfg.MeterProvider.Meter("github.com/elastic/go-logappender")
	ms := metrics{}
	histograms := []histogramMetric{
		{
			name:        "logappender.ship.latency",
			description: "The amount of time an index request took, in seconds.",
			unit:        "s",
			p:           &ms.shipDuration,
		},
	}
	for _, m := range histograms {
		if err := newFloat64Histogram(meter, m); err != nil {
			return ms, err
		}
	}

	counters := []counterMetric{
		{
			name:        "logappender.events.appended",
			description: "The number of log events passed to the appender.",
			p:           &ms.eventsAppended,
		},
		{
			name:        "logappender.events.buffered",
			description: "The number of log events buffered while the backend was not ready.",
			p:           &ms.eventsBuffered,
		},
		{
			name:        "logappender.events.shipped",
			description: "The number of log events processed. The status attribute reports success, failures and drops.",
			p:           &ms.eventsShipped,
		},
		{
			name:        "logappender.activations",
			description: "The number of backend activation attempts.",
			p:           &ms.activations,
		},
	}
	for _, m := range counters {
		if err := newInt64Counter(meter, m); err != nil {
			return ms, err
		}
	}

	pending, err := meter.Int64UpDownCounter(
		"logappender.events.pending",
		metric.WithUnit("1"),
		metric.WithDescription("The number of log events waiting in the buffer for the backend to become ready."),
	)
	if err != nil {
		return ms, fmt.Errorf("failed creating logappender.events.pending metric: %w", err)
	}
	ms.eventsPending = pending
	return ms, nil
}

func newInt64Counter(meter metric.Meter, c counterMetric) error {
	unit := c.unit
	if unit == "" {
		unit = "1"
	}
	m, err := meter.Int64Counter(
		c.name,
		metric.WithUnit(unit),
		metric.WithDescription(c.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", c.name, err,
		)
	}
	*c.p = m
	return nil
}

func newFloat64Histogram(meter metric.Meter, h histogramMetric) error {
	m, err := meter.Float64Histogram(
		h.name,
		metric.WithUnit(h.unit),
		metric.WithDescription(h.description),
	)
	if err != nil {
		return fmt.Errorf(
			"failed creating %s metric: %w", h.name, err,
		)
	}
	*h.p = m
	return nil
}
