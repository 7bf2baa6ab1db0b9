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
	"time"

	"go.elastic.co/apm/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds configuration for Appender.
type Config struct {
	// Logger holds an optional Logger for the appender's own diagnostics:
	// indexing failures, activation, and teardown.
	//
	// The Logger must not write to the Appender it configures, otherwise
	// every indexing failure would be appended again.
	//
	// If Logger is nil, logging will be disabled.
	Logger *zap.Logger

	// Tracer holds an optional apm.Tracer. Activation is traced as a
	// transaction, and requests made during it as spans.
	//
	// If Tracer is nil, activation will not be traced with Elastic APM.
	Tracer *apm.Tracer

	// TracerProvider holds an optional OTel TracerProvider used to create
	// spans for activation and for each indexing request.
	//
	// If TracerProvider is nil, no OTel spans are created.
	TracerProvider trace.TracerProvider

	// MeterProvider holds the OTel MeterProvider to be used to create and
	// record appender metrics.
	//
	// If unset, the global OTel MeterProvider will be used, if that is unset,
	// no metrics will be recorded.
	MeterProvider metric.MeterProvider

	// MetricAttributes holds any extra attributes to set in the recorded
	// metrics.
	MetricAttributes attribute.Set

	// NewBackend creates the backend when the Appender is activated.
	//
	// If NewBackend is nil, NewBackend (the package function) is used.
	NewBackend BackendFactory

	// Hostname resolves the host name stamped on every document. It is
	// called once, by New.
	//
	// If Hostname is nil, os.Hostname is used.
	Hostname func() (string, error)

	// ShipTimeout bounds each indexing request. Once the appender is
	// ready, Append indexes synchronously, so ShipTimeout is also the
	// longest Append may take.
	//
	// If ShipTimeout is zero, the default of 5 seconds will be used.
	ShipTimeout time.Duration
}

// DefaultConfig returns a copy of cfg with zero values replaced by their
// defaults.
func DefaultConfig(cfg Config) Config {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.NewBackend == nil {
		cfg.NewBackend = NewBackend
	}
	if cfg.ShipTimeout <= 0 {
		cfg.ShipTimeout = 5 * time.Second
	}
	return cfg
}
