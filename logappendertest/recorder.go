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

package logappendertest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/elastic/go-logappender"
)

// Document is a document received by a Recorder.
type Document struct {
	Index string
	Body  []byte
}

// Field returns the value of the top-level field key of the document, or
// nil if the document has no such field.
func (d Document) Field(key string) any {
	var m map[string]any
	if err := json.Unmarshal(d.Body, &m); err != nil {
		panic(err)
	}
	return m[key]
}

// Message returns the "message" field of the document.
func (d Document) Message() string {
	s, _ := d.Field("message").(string)
	return s
}

// Recorder is a logappender.Backend that records the documents it is
// asked to index, in order.
type Recorder struct {
	// IndexFunc, if set, is called for every document before it is
	// recorded as indexed. A non-nil error fails the request.
	IndexFunc func(ctx context.Context, doc Document) error

	// CloseErr is returned by Close.
	CloseErr error

	mu       sync.Mutex
	attempts []Document
	indexed  []Document
	configs  []logappender.BackendConfig
	closes   int
}

// NewBackend is a logappender.BackendFactory returning r.
func (r *Recorder) NewBackend(_ context.Context, cfg logappender.BackendConfig) (logappender.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, cfg)
	return r, nil
}

func (r *Recorder) Index(ctx context.Context, index string, doc io.WriterTo) error {
	var buf bytes.Buffer
	if _, err := doc.WriteTo(&buf); err != nil {
		return err
	}
	d := Document{Index: index, Body: buf.Bytes()}
	r.mu.Lock()
	r.attempts = append(r.attempts, d)
	r.mu.Unlock()
	if r.IndexFunc != nil {
		if err := r.IndexFunc(ctx, d); err != nil {
			return err
		}
	}
	r.mu.Lock()
	r.indexed = append(r.indexed, d)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return r.CloseErr
}

// Attempts returns every document passed to Index, including failed ones.
func (r *Recorder) Attempts() []Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Document(nil), r.attempts...)
}

// Indexed returns the documents indexed successfully.
func (r *Recorder) Indexed() []Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Document(nil), r.indexed...)
}

// Messages returns the messages of the documents indexed successfully.
func (r *Recorder) Messages() []string {
	indexed := r.Indexed()
	messages := make([]string, len(indexed))
	for i, d := range indexed {
		messages[i] = d.Message()
	}
	return messages
}

// Configs returns the configurations passed to NewBackend, one per
// backend created.
func (r *Recorder) Configs() []logappender.BackendConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]logappender.BackendConfig(nil), r.configs...)
}

// Closes returns the number of times Close was called.
func (r *Recorder) Closes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes
}
