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

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// elasticsearchBackend indexes each document with the index API.
type elasticsearchBackend struct {
	client    *elasticsearch.Client
	transport *transport
	pipeline  string
	closeOnce sync.Once
}

func newElasticsearchBackend(ctx context.Context, cfg BackendConfig) (*elasticsearchBackend, error) {
	client, tr, err := newElasticsearchClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &elasticsearchBackend{
		client:    client,
		transport: tr,
		pipeline:  cfg.Pipeline,
	}, nil
}

// newElasticsearchClient creates a go-elasticsearch client for cfg and pings
// the cluster. Client side retries are disabled: every document is
// attempted once.
func newElasticsearchClient(ctx context.Context, cfg BackendConfig) (*elasticsearch.Client, *transport, error) {
	tr := newTransport(cfg.Transport)
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{cfg.URL},
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    tr,
		DisableRetry: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	res, err := client.Ping(client.Ping.WithContext(pingCtx))
	if err != nil {
		tr.CloseIdleConnections()
		return nil, nil, fmt.Errorf("failed to connect to elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		tr.CloseIdleConnections()
		return nil, nil, fmt.Errorf("elasticsearch ping failed with status: %d", res.StatusCode)
	}
	return client, tr, nil
}

func (b *elasticsearchBackend) Index(ctx context.Context, index string, doc io.WriterTo) error {
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
	req := esapi.IndexRequest{
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

func (b *elasticsearchBackend) Close(context.Context) error {
	b.closeOnce.Do(b.transport.CloseIdleConnections)
	return nil
}
