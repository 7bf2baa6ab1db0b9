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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.elastic.co/apm/v2/apmtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/elastic/go-logappender"
	"github.com/elastic/go-logappender/logappendertest"
)

// indexedDocs collects the documents received by a mock server.
type indexedDocs struct {
	mu        sync.Mutex
	docs      []map[string]any
	indices   []string
	queries   []string
	encodings []string
}

func (d *indexedDocs) add(index, rawQuery string, body []byte) map[string]any {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		panic(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.docs = append(d.docs, doc)
	d.indices = append(d.indices, index)
	d.queries = append(d.queries, rawQuery)
	return doc
}

func (d *indexedDocs) messages() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var messages []string
	for _, doc := range d.docs {
		messages = append(messages, doc["message"].(string))
	}
	return messages
}

func (d *indexedDocs) snapshot() (docs []map[string]any, indices, queries, encodings []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append(docs, d.docs...), append(indices, d.indices...),
		append(queries, d.queries...), append(encodings, d.encodings...)
}

func (d *indexedDocs) indexHandler(w http.ResponseWriter, r *http.Request) {
	d.add(r.PathValue("index"), r.URL.RawQuery, logappendertest.DecodeIndexRequest(r))
	logappendertest.WriteIndexResponse(w, r.PathValue("index"))
}

func TestElasticsearchBackend(t *testing.T) {
	var received indexedDocs
	srv := logappendertest.NewMockElasticsearchServer(t, logappendertest.Handlers{
		Index:    received.indexHandler,
		Username: "elastic",
		Password: "changeme",
	})
	a := newAppender(t, logappender.Config{
		Hostname: func() (string, error) { return "web-1", nil },
	})

	a.Append(newEvent("A"))
	a.Append(newEvent("B"))
	cfg := validBackendConfig()
	cfg.URL = srv.URL
	cfg.Pipeline = "logs-pipeline"
	require.NoError(t, a.Activate(context.Background(), cfg))
	a.Append(newEvent("C"))

	assert.Equal(t, []string{"A", "B", "C"}, received.messages())
	docs, indices, queries, _ := received.snapshot()
	assert.Equal(t, []string{"logs-app-default", "logs-app-default", "logs-app-default"}, indices)
	for _, q := range queries {
		assert.Equal(t, "pipeline=logs-pipeline", q)
	}

	doc := docs[2]
	ts, err := time.Parse(logappendertest.TimestampFormat, doc["@timestamp"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ts, time.Minute)
	assert.Equal(t, "web-1", doc["host"])
	assert.Equal(t, "INFO", doc["level"])
	assert.Equal(t, "app", doc["logger"])
	assert.Equal(t, "main", doc["thread"])
	assert.NotContains(t, doc, "error")
	assert.Equal(t, int64(3), a.Stats().Shipped)
}

func TestElasticsearchBackendIndexError(t *testing.T) {
	var received indexedDocs
	srv := logappendertest.NewMockElasticsearchServer(t, logappendertest.Handlers{
		Index: func(w http.ResponseWriter, r *http.Request) {
			doc := received.add(r.PathValue("index"), r.URL.RawQuery, logappendertest.DecodeIndexRequest(r))
			if doc["message"] == "bad" {
				logappendertest.WriteError(w, http.StatusBadRequest, "mapper_parsing_exception",
					"failed to parse field [labels.n] of type [long] in document with id 'x'. Preview of field's value: 'abc'",
				)
				return
			}
			logappendertest.WriteIndexResponse(w, r.PathValue("index"))
		},
	})
	core, observed := observer.New(zap.NewAtomicLevelAt(zapcore.DebugLevel))
	a := newAppender(t, logappender.Config{Logger: zap.New(core)})

	cfg := validBackendConfig()
	cfg.URL = srv.URL
	require.NoError(t, a.Activate(context.Background(), cfg))
	a.Append(newEvent("bad"))
	a.Append(newEvent("good"))

	assert.Equal(t, []string{"bad", "good"}, received.messages())
	stats := a.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Shipped)

	entries := observed.FilterMessage("failed to index log event").All()
	require.Len(t, entries, 1)
	assert.Equal(t,
		"failed to index document in 'logs-app-default' (400 mapper_parsing_exception): "+
			"failed to parse field [labels.n] of type [long] in document with id 'x'",
		entries[0].ContextMap()["error"],
	)
}

func TestElasticsearchBackendAuthFailure(t *testing.T) {
	srv := logappendertest.NewMockElasticsearchServer(t, logappendertest.Handlers{
		Username: "elastic",
		Password: "secret",
	})
	a := newAppender(t, logappender.Config{})
	a.Append(newEvent("A"))

	cfg := validBackendConfig()
	cfg.URL = srv.URL
	err := a.Activate(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.False(t, a.Ready())
	assert.Equal(t, int64(1), a.Stats().Pending)
}

func TestElasticsearchBackendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := newAppender(t, logappender.Config{})
	a.Append(newEvent("A"))
	cfg := validBackendConfig()
	cfg.URL = url
	err := a.Activate(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to elasticsearch")
	assert.False(t, a.Ready())

	// Events appended after a failed activation are still buffered.
	a.Append(newEvent("B"))
	assert.Equal(t, int64(2), a.Stats().Pending)
}

func TestElasticsearchBackendAPMSpans(t *testing.T) {
	srv := logappendertest.NewMockElasticsearchServer(t, logappendertest.Handlers{})
	tracer := apmtest.NewRecordingTracer()
	defer tracer.Close()

	a := newAppender(t, logappender.Config{Tracer: tracer.Tracer})
	cfg := validBackendConfig()
	cfg.URL = srv.URL
	require.NoError(t, a.Activate(context.Background(), cfg))

	tracer.Flush(nil)
	payloads := tracer.Payloads()
	require.Len(t, payloads.Transactions, 1)
	require.NotEmpty(t, payloads.Spans)
	assert.Equal(t, "db", payloads.Spans[0].Type)
	assert.Equal(t, "elasticsearch", payloads.Spans[0].Subtype)
	assert.Equal(t, payloads.Transactions[0].ID, payloads.Spans[0].TransactionID)
}

func TestBulkBackend(t *testing.T) {
	var received indexedDocs
	srv := logappendertest.NewMockElasticsearchServer(t, logappendertest.Handlers{
		Bulk: func(w http.ResponseWriter, r *http.Request) {
			received.mu.Lock()
			received.encodings = append(received.encodings, r.Header.Get("Content-Encoding"))
			received.mu.Unlock()
			docs, result := logappendertest.DecodeBulkRequest(r)
			for _, doc := range docs {
				received.add("", r.URL.RawQuery, doc)
			}
			json.NewEncoder(w).Encode(result)
		},
	})
	a := newAppender(t, logappender.Config{})
	a.Append(newEvent("A"))

	cfg := validBackendConfig()
	cfg.URL = srv.URL
	cfg.CompressionLevel = 1
	require.NoError(t, a.Activate(context.Background(), cfg))
	a.Append(newEvent("B"))

	assert.Equal(t, []string{"A", "B"}, received.messages())
	_, _, _, encodings := received.snapshot()
	assert.Equal(t, []string{"gzip", "gzip"}, encodings)
	assert.Equal(t, int64(2), a.Stats().Shipped)
}

func TestBulkBackendItemError(t *testing.T) {
	srv := logappendertest.NewMockElasticsearchServer(t, logappendertest.Handlers{
		Bulk: func(w http.ResponseWriter, r *http.Request) {
			logappendertest.DecodeBulkRequest(r)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"items":[{"create":{"_index":"logs-app-default","status":400,"error":{`+
				`"type":"mapper_parsing_exception",`+
				`"reason":"failed to parse field [labels.n] of type [long]. Preview of field's value: 'abc'"}}}]}`)
		},
	})
	core, observed := observer.New(zap.NewAtomicLevelAt(zapcore.DebugLevel))
	a := newAppender(t, logappender.Config{Logger: zap.New(core)})

	cfg := validBackendConfig()
	cfg.URL = srv.URL
	cfg.CompressionLevel = -1
	require.NoError(t, a.Activate(context.Background(), cfg))
	a.Append(newEvent("bad"))

	assert.Equal(t, int64(1), a.Stats().Failed)
	entries := observed.FilterMessage("failed to index log event").All()
	require.Len(t, entries, 1)
	assert.Equal(t,
		"failed to index document in 'logs-app-default' (400 mapper_parsing_exception): failed to parse field [labels.n] of type [long]",
		entries[0].ContextMap()["error"],
	)
}

func TestOpenSearchBackend(t *testing.T) {
	var received indexedDocs
	srv := logappendertest.NewMockOpenSearchServer(t, logappendertest.Handlers{
		Index:    received.indexHandler,
		Username: "admin",
		Password: "admin",
	})
	a := newAppender(t, logappender.Config{})
	a.Append(newEvent("A"))

	cfg := validBackendConfig()
	cfg.URL = srv.URL
	cfg.Kind = logappender.KindOpenSearch
	cfg.Username = "admin"
	cfg.Password = "admin"
	require.NoError(t, a.Activate(context.Background(), cfg))
	a.Append(newEvent("B"))

	assert.Equal(t, []string{"A", "B"}, received.messages())
	_, indices, _, _ := received.snapshot()
	assert.Equal(t, []string{"logs-app-default", "logs-app-default"}, indices)
	require.NoError(t, a.Close(context.Background()))
}
