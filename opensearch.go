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
	"sync"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// openSearchBackend indexes each document into OpenSearch with the index
// API.
type openSearchBackend struct {
	client    *opensearch.Client
	transport *transport
	pipeline  string
	closeOnce sync.Once
}

func newOpenSearchBackend(ctx context.Context, cfg BackendConfig) (*openSearchBackend, error) {
	tr := newTransport(cfg.Transport)
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:    []string{cfg.URL},
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    tr,
		DisableRetry: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	res, err := client.Ping(client.Ping.WithContext(pingCtx))
	if err != nil {
		tr.CloseIdleConnections()
		return nil, fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		tr.CloseIdleConnections()
		return nil, fmt.Errorf("opensearch ping failed with status: %d", res.StatusCode)
	}
	return &openSearchBackend{
		client:    client,
		transport: tr,
		pipeline:  cfg.Pipeline,
	}, nil
}

func (b *openSearchBackend) Index(ctx context.Context, index string, doc io.WriterTo) error {
	if index == "" {
		return errMissingIndex
	}
	if doc == nil {
		return errMissingBody
	}
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	req := opensearchapi.IndexRequest{
		Index:    index,
		Body:     &buf,
		Pipeline: b.pipeline,
	}
	res, err := req.Do(ctx, b.client)
	if err != nil {
		return fmt.Errorf("failed to execute the request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return newIndexError(index, res.StatusCode, res.Body)
	}
	io.Copy(io.Discard, res.Body)
	return nil
}

func (b *openSearchBackend) Close(context.Context) error {
	b.closeOnce.Do(b.transport.CloseIdleConnections)
	return nil
}
