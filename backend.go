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
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.elastic.co/apm/module/apmelasticsearch/v2"
)

var (
	// ErrInvalidConfig is wrapped by every configuration validation error.
	ErrInvalidConfig = errors.New("invalid backend configuration")

	errMissingIndex = errors.New("missing index name")
	errMissingBody  = errors.New("missing document body")
)

// Backend indexes documents into a remote index. Implementations must be
// safe for concurrent use.
type Backend interface {
	// Index sends one document to index. It is called at most once per
	// document.
	Index(ctx context.Context, index string, doc io.WriterTo) error

	// Close releases the connection to the backend.
	Close(ctx context.Context) error
}

// BackendFactory creates a connected Backend from cfg. It is called at most
// once per successful activation.
type BackendFactory func(ctx context.Context, cfg BackendConfig) (Backend, error)

// BackendKind selects the client used to talk to the backend.
type BackendKind string

const (
	KindElasticsearch BackendKind = "elasticsearch"
	KindOpenSearch    BackendKind = "opensearch"
)

// BackendConfig holds the settings supplied once at activation.
type BackendConfig struct {
	// URL is the backend endpoint, for example https://localhost:9200.
	URL string

	// Index is the target index or data stream name.
	Index string

	// Username and Password are the basic auth credentials.
	Username string
	Password string

	// Kind selects the backend client.
	//
	// If Kind is empty, KindElasticsearch is used.
	Kind BackendKind

	// Pipeline holds the ingest pipeline ID.
	//
	// If Pipeline is empty, no ingest pipeline will be specified.
	Pipeline string

	// CompressionLevel holds the gzip compression level, from 0 (no
	// compression) to 9. The special value -1 selects the default level.
	// A non-zero level makes the Elasticsearch backend send each document
	// as a gzip compressed _bulk create request instead of using the
	// index API.
	CompressionLevel int

	// ConnectTimeout bounds the connectivity check performed when the
	// backend is created.
	//
	// If ConnectTimeout is zero, the default of 10 seconds will be used.
	ConnectTimeout time.Duration

	// Transport holds an optional http.RoundTripper used for requests.
	//
	// If Transport is nil, a clone of http.DefaultTransport is used.
	Transport http.RoundTripper
}

// ConfigError reports one invalid BackendConfig field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// Validate returns an error wrapping ErrInvalidConfig, joining every
// problem found, or nil if cfg is usable.
func (cfg BackendConfig) Validate() error {
	var errs []error
	if cfg.URL == "" {
		errs = append(errs, &ConfigError{Field: "url", Reason: "missing backend endpoint"})
	} else if u, err := url.Parse(cfg.URL); err != nil {
		errs = append(errs, &ConfigError{Field: "url", Reason: err.Error()})
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, &ConfigError{Field: "url", Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)})
	} else if u.Host == "" {
		errs = append(errs, &ConfigError{Field: "url", Reason: "missing host"})
	}
	if err := validateIndexName(cfg.Index); err != nil {
		errs = append(errs, &ConfigError{Field: "index", Reason: err.Error()})
	}
	if cfg.Username == "" {
		errs = append(errs, &ConfigError{Field: "username", Reason: "missing username"})
	}
	if cfg.Password == "" {
		errs = append(errs, &ConfigError{Field: "password", Reason: "missing password"})
	}
	switch cfg.Kind {
	case "", KindElasticsearch, KindOpenSearch:
	default:
		errs = append(errs, &ConfigError{Field: "kind", Reason: fmt.Sprintf("unknown backend kind %q", cfg.Kind)})
	}
	if cfg.CompressionLevel < -1 || cfg.CompressionLevel > 9 {
		errs = append(errs, &ConfigError{
			Field:  "compression_level",
			Reason: fmt.Sprintf("expected CompressionLevel in range [-1,9], got %d", cfg.CompressionLevel),
		})
	}
	if cfg.Kind == KindOpenSearch && cfg.CompressionLevel != 0 {
		errs = append(errs, &ConfigError{Field: "compression_level", Reason: "compression is only supported by the elasticsearch backend"})
	}
	return errors.Join(errs...)
}

// validateIndexName applies Elasticsearch's index naming rules.
func validateIndexName(index string) error {
	switch {
	case index == "":
		return errMissingIndex
	case index == "." || index == "..":
		return fmt.Errorf("index name %q is reserved", index)
	case len(index) > 255:
		return fmt.Errorf("index name is longer than 255 bytes")
	case strings.ToLower(index) != index:
		return fmt.Errorf("index name %q must be lowercase", index)
	case strings.ContainsAny(index, `\/*?"<>| ,#:`):
		return fmt.Errorf("index name %q contains an invalid character", index)
	case strings.IndexAny(index[:1], "-_+") == 0:
		return fmt.Errorf("index name %q must not start with '-', '_' or '+'", index)
	}
	return nil
}

// NewBackend is the default BackendFactory. It creates the client selected
// by cfg.Kind and checks that the endpoint is reachable with the configured
// credentials.
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	switch cfg.Kind {
	case KindOpenSearch:
		return newOpenSearchBackend(ctx, cfg)
	default:
		if cfg.CompressionLevel != 0 {
			return newBulkBackend(ctx, cfg)
		}
		return newElasticsearchBackend(ctx, cfg)
	}
}

// IndexError is returned by backends when the index request is rejected.
type IndexError struct {
	Index      string
	StatusCode int
	Type       string
	Reason     string
}

func (e *IndexError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("failed to index document in '%s' (%d): %s", e.Index, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("failed to index document in '%s' (%d %s): %s", e.Index, e.StatusCode, e.Type, e.Reason)
}

// newIndexError decodes an Elasticsearch error response body.
func newIndexError(index string, statusCode int, body io.Reader) *IndexError {
	e := &IndexError{Index: index, StatusCode: statusCode}
	raw, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil || len(raw) == 0 {
		e.Reason = http.StatusText(statusCode)
		return e
	}
	var resp struct {
		Error jsoniter.RawMessage `json:"error"`
	}
	if err := jsoniter.Unmarshal(raw, &resp); err != nil || len(resp.Error) == 0 {
		e.Reason = string(raw)
		return e
	}
	var cause struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}
	if err := jsoniter.Unmarshal(resp.Error, &cause); err == nil {
		e.Type = cause.Type
		e.Reason, _, _ = strings.Cut(cause.Reason, ". Preview")
		return e
	}
	var reason string
	if err := jsoniter.Unmarshal(resp.Error, &reason); err == nil {
		e.Reason = reason
		return e
	}
	e.Reason = string(resp.Error)
	return e
}

// transport is the http.RoundTripper shared by the backends. Requests are
// traced with Elastic APM when the request context carries a transaction.
type transport struct {
	base http.RoundTripper
	http.RoundTripper
}

func newTransport(base http.RoundTripper) *transport {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &transport{
		base:         base,
		RoundTripper: apmelasticsearch.WrapRoundTripper(base),
	}
}

// CloseIdleConnections closes idle connections of the underlying transport.
func (t *transport) CloseIdleConnections() {
	if c, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}
