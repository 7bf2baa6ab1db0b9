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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/elastic/elastic-transport-go/v8/elastictransport"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/gzip"
	"go.elastic.co/fastjson"
)

// bulkBackend sends each document as a single "create" action of a _bulk
// request. Unlike the index API, the body may be gzip compressed, and the
// create action makes it usable with data streams.
type bulkBackend struct {
	client           elastictransport.Interface
	transport        *transport
	compressionLevel int
	pipeline         string
	requests         sync.Pool
	closeOnce        sync.Once
}

// bulkRequest holds the reusable buffers of a single request body.
type bulkRequest struct {
	jsonw  fastjson.Writer
	buf    bytes.Buffer
	gzipw  *gzip.Writer
	writer io.Writer
}

// bulkResponse is the filtered _bulk response.
type bulkResponse struct {
	Items []map[string]bulkResponseItem `json:"items"`
}

type bulkResponseItem struct {
	Index  string `json:"_index"`
	Status int    `json:"status"`
	Error  struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

func newBulkBackend(ctx context.Context, cfg BackendConfig) (*bulkBackend, error) {
	client, tr, err := newElasticsearchClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newBulkBackendWithClient(client, tr, cfg), nil
}

func newBulkBackendWithClient(client elastictransport.Interface, tr *transport, cfg BackendConfig) *bulkBackend {
	b := &bulkBackend{
		client:           client,
		transport:        tr,
		compressionLevel: cfg.CompressionLevel,
		pipeline:         cfg.Pipeline,
	}
	b.requests.New = func() any {
		r := &bulkRequest{}
		if b.compressionLevel != gzip.NoCompression {
			// The level is validated by BackendConfig.Validate.
			r.gzipw, _ = gzip.NewWriterLevel(&r.buf, b.compressionLevel)
			r.writer = r.gzipw
		} else {
			r.writer = &r.buf
		}
		return r
	}
	return b
}

func (r *bulkRequest) reset() {
	r.buf.Reset()
	r.jsonw.Reset()
	if r.gzipw != nil {
		r.gzipw.Reset(&r.buf)
	}
}

func (r *bulkRequest) writeMeta(index string) {
	r.jsonw.RawString(`{"create":{"_index":`)
	r.jsonw.String(index)
	r.jsonw.RawString("}}\n")
	r.writer.Write(r.jsonw.Bytes())
	r.jsonw.Reset()
}

func (b *bulkBackend) Index(ctx context.Context, index string, doc io.WriterTo) error {
	if index == "" {
		return errMissingIndex
	}
	if doc == nil {
		return errMissingBody
	}
	r := b.requests.Get().(*bulkRequest)
	defer func() {
		r.reset()
		b.requests.Put(r)
	}()

	r.writeMeta(index)
	if _, err := doc.WriteTo(r.writer); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	if _, err := r.writer.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if r.gzipw != nil {
		if err := r.gzipw.Close(); err != nil {
			return fmt.Errorf("failed closing the gzip writer: %w", err)
		}
	}

	req := esapi.BulkRequest{
		Body:       &r.buf,
		Header:     make(http.Header),
		FilterPath: []string{"items.*._index", "items.*.status", "items.*.error.type", "items.*.error.reason"},
		Pipeline:   b.pipeline,
	}
	if r.gzipw != nil {
		req.Header.Set("Content-Encoding", "gzip")
	}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return fmt.Errorf("failed to execute the request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return newIndexError(index, res.StatusCode, res.Body)
	}

	var resp bulkResponse
	if err := jsoniter.NewDecoder(res.Body).Decode(&resp); err != nil {
		return fmt.Errorf("error decoding bulk response: %w", err)
	}
	for _, item := range resp.Items {
		for _, result := range item {
			if result.Error.Type == "" && result.Status <= 201 {
				continue
			}
			// Match Elasticsearch field mapper field value:
			// failed to parse field [%s] of type [%s] in %s. Preview of field's value: '%s'
			reason, _, _ := strings.Cut(result.Error.Reason, ". Preview")
			failedIndex := result.Index
			if failedIndex == "" {
				failedIndex = index
			}
			return &IndexError{
				Index:      failedIndex,
				StatusCode: result.Status,
				Type:       result.Error.Type,
				Reason:     reason,
			}
		}
	}
	return nil
}

func (b *bulkBackend) Close(context.Context) error {
	if b.transport != nil {
		b.closeOnce.Do(b.transport.CloseIdleConnections)
	}
	return nil
}
