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

// Package logappendertest provides helpers for testing code that uses
// go-logappender: mock Elasticsearch and OpenSearch servers, and a
// recording Backend.
package logappendertest

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8/esutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// TimestampFormat holds the time format for formatting timestamps according to
// Elasticsearch's strict_date_optional_time date format, which includes a fractional
// seconds component.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Handlers holds the handlers of a mock server. Nil handlers respond with
// a successful, empty result.
type Handlers struct {
	// Index handles POST /{index}/_doc requests.
	Index http.HandlerFunc

	// Bulk handles /_bulk requests.
	Bulk http.HandlerFunc

	// Username and Password, when set, are required as basic auth on
	// every request. Other requests are rejected with 401.
	Username string
	Password string
}

// NewMockElasticsearchServer starts an httptest.Server mimicking an
// Elasticsearch cluster. The server will be closed via t.Cleanup.
func NewMockElasticsearchServer(t testing.TB, h Handlers) *httptest.Server {
	root := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"mock","cluster_name":"mock","version":{"number":"8.15.0","build_flavor":"default"},"tagline":"You Know, for Search"}`)
	}
	srv := httptest.NewServer(newMux(h, root, "Elasticsearch"))
	t.Cleanup(srv.Close)
	return srv
}

// NewMockOpenSearchServer starts an httptest.Server mimicking an
// OpenSearch cluster. The server will be closed via t.Cleanup.
func NewMockOpenSearchServer(t testing.TB, h Handlers) *httptest.Server {
	root := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"mock","cluster_name":"mock","version":{"distribution":"opensearch","number":"2.11.0"},"tagline":"The OpenSearch Project: https://opensearch.org/"}`)
	}
	srv := httptest.NewServer(newMux(h, root, ""))
	t.Cleanup(srv.Close)
	return srv
}

func newMux(h Handlers, root http.HandlerFunc, product string) http.Handler {
	if h.Index == nil {
		h.Index = func(w http.ResponseWriter, r *http.Request) {
			DecodeIndexRequest(r)
			WriteIndexResponse(w, r.PathValue("index"))
		}
	}
	if h.Bulk == nil {
		h.Bulk = func(w http.ResponseWriter, r *http.Request) {
			_, result := DecodeBulkRequest(r)
			json.NewEncoder(w).Encode(result)
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", root)
	mux.HandleFunc("POST /{index}/_doc", h.Index)
	mux.HandleFunc("/_bulk", h.Bulk)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if product != "" {
			w.Header().Set("X-Elastic-Product", product)
		}
		if h.Username != "" || h.Password != "" {
			user, pass, ok := r.BasicAuth()
			if !ok || user != h.Username || pass != h.Password {
				WriteError(w, http.StatusUnauthorized, "security_exception", "unable to authenticate user")
				return
			}
		}
		mux.ServeHTTP(w, r)
	})
}

// WriteIndexResponse writes a successful index API response.
func WriteIndexResponse(w http.ResponseWriter, index string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"_index":   index,
		"_id":      "mock",
		"result":   "created",
		"_version": 1,
	})
}

// WriteError writes an Elasticsearch error response.
func WriteError(w http.ResponseWriter, status int, errorType, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error":  map[string]any{"type": errorType, "reason": reason},
		"status": status,
	})
}

func requestBody(r *http.Request) io.Reader {
	body := io.Reader(r.Body)
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			panic(err)
		}
		body = r
	}
	return body
}

// DecodeIndexRequest decodes an index API request's body, returning the
// document.
func DecodeIndexRequest(r *http.Request) []byte {
	doc, err := io.ReadAll(requestBody(r))
	if err != nil {
		panic(err)
	}
	if !json.Valid(doc) {
		panic(fmt.Errorf("invalid JSON: %s", doc))
	}
	return doc
}

// DecodeBulkRequest decodes a /_bulk request's body, returning the decoded documents and a response body.
func DecodeBulkRequest(r *http.Request) ([][]byte, esutil.BulkIndexerResponse) {
	scanner := bufio.NewScanner(requestBody(r))
	var indexed [][]byte
	var result esutil.BulkIndexerResponse
	for scanner.Scan() {
		action := make(map[string]interface{})
		if err := json.NewDecoder(strings.NewReader(scanner.Text())).Decode(&action); err != nil {
			panic(err)
		}
		var actionType string
		for actionType = range action {
		}
		if !scanner.Scan() {
			panic("expected source")
		}

		doc := append([]byte{}, scanner.Bytes()...)
		if !json.Valid(doc) {
			panic(fmt.Errorf("invalid JSON: %s", doc))
		}
		indexed = append(indexed, doc)

		item := esutil.BulkIndexerResponseItem{Status: http.StatusCreated}
		result.Items = append(result.Items, map[string]esutil.BulkIndexerResponseItem{actionType: item})
	}
	return indexed, result
}

// AssertOTelMetrics calls assert for every metric in ms.
func AssertOTelMetrics(t testing.TB, ms []metricdata.Metrics, assert func(m metricdata.Metrics)) {
	t.Helper()
	for _, m := range ms {
		assert(m)
	}
}

// SumInt64 returns the sum of the data points of the int64 counter named
// name in ms whose attributes include attrs.
func SumInt64(ms []metricdata.Metrics, name string, attrs ...attribute.KeyValue) int64 {
	var total int64
	for _, m := range ms {
		if m.Name != name {
			continue
		}
		sum, ok := m.Data.(metricdata.Sum[int64])
		if !ok {
			continue
		}
	points:
		for _, dp := range sum.DataPoints {
			for _, kv := range attrs {
				if v, ok := dp.Attributes.Value(kv.Key); !ok || v.Emit() != kv.Value.Emit() {
					continue points
				}
			}
			total += dp.Value
		}
	}
	return total
}
