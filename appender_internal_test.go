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
	"io"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingBackend struct {
	indexed atomic.Int32
}

func (b *countingBackend) Index(context.Context, string, io.WriterTo) error {
	b.indexed.Add(1)
	return nil
}

func (b *countingBackend) Close(context.Context) error { return nil }

func TestAppenderShipAfterClose(t *testing.T) {
	backend := &countingBackend{}
	a, err := New(Config{
		NewBackend: func(context.Context, BackendConfig) (Backend, error) { return backend, nil },
	})
	require.NoError(t, err)
	require.NoError(t, a.Activate(context.Background(), BackendConfig{
		URL:      "http://localhost:9200",
		Index:    "logs",
		Username: "elastic",
		Password: "changeme",
	}))

	// An Append that saw the appender open and ready, racing Close.
	a.closed.Store(true)
	a.ship(Event{Message: "late"})

	assert.Zero(t, backend.indexed.Load())
	assert.Equal(t, int64(1), a.Stats().Dropped)
}

func TestFreezeValue(t *testing.T) {
	for _, v := range []any{nil, "s", true, 1, int64(2), 1.5} {
		assert.Equal(t, v, freezeValue(v))
	}
	tags := []string{"a"}
	frozen := freezeValue(tags)
	tags[0] = "b"
	assert.Equal(t, encodedValue(`["a"]`), frozen)
	assert.Equal(t, frozen, freezeValue(frozen))
}
