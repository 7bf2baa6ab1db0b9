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
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/elastic/go-logappender/lookup"
)

// ErrMissingConfig is wrapped by errors reporting required configuration
// keys that could not be resolved.
var ErrMissingConfig = errors.New("missing backend configuration")

// LookupKeys names the keys BackendConfigFromLookup reads.
type LookupKeys struct {
	// Required.
	URL      string
	Index    string
	Username string
	Password string

	// Optional.
	Kind             string
	Pipeline         string
	CompressionLevel string
}

// DefaultLookupKeys returns the keys under the "elasticsearch." prefix.
func DefaultLookupKeys() LookupKeys {
	return LookupKeys{
		URL:              "elasticsearch.url",
		Index:            "elasticsearch.index",
		Username:         "elasticsearch.username",
		Password:         "elasticsearch.password",
		Kind:             "elasticsearch.kind",
		Pipeline:         "elasticsearch.pipeline",
		CompressionLevel: "elasticsearch.compression_level",
	}
}

// BackendConfigFromLookup reads a BackendConfig from l. Values may contain
// ${key} placeholders, resolved against l. Username and password are read
// verbatim.
//
// Required keys that are not set, or whose placeholders cannot be resolved,
// are reported by an error wrapping ErrMissingConfig. Malformed values and
// placeholders are reported by an error wrapping ErrInvalidConfig.
func BackendConfigFromLookup(l lookup.Lookup, keys LookupKeys) (BackendConfig, error) {
	var missing []string
	var invalid []error
	get := func(key string, required, expand bool) string {
		if key == "" {
			return ""
		}
		v, ok := l.Lookup(key)
		if ok && expand {
			expanded, err := lookup.Expand(v, l)
			switch {
			case err == nil:
				v = strings.TrimSpace(expanded)
			case errors.Is(err, lookup.ErrNotFound):
				ok = false
			default:
				invalid = append(invalid, &ConfigError{Field: key, Reason: err.Error()})
				return ""
			}
		}
		if !ok {
			if required {
				missing = append(missing, key)
			}
			return ""
		}
		return v
	}
	cfg := BackendConfig{
		URL:      get(keys.URL, true, true),
		Index:    get(keys.Index, true, true),
		Username: get(keys.Username, true, false),
		Password: get(keys.Password, true, false),
		Kind:     BackendKind(strings.ToLower(get(keys.Kind, false, true))),
		Pipeline: get(keys.Pipeline, false, true),
	}
	level := get(keys.CompressionLevel, false, true)
	if len(invalid) > 0 {
		return BackendConfig{}, errors.Join(invalid...)
	}
	if len(missing) > 0 {
		return BackendConfig{}, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	if level != "" {
		n, err := strconv.Atoi(level)
		if err != nil {
			return BackendConfig{}, &ConfigError{Field: "compression_level", Reason: err.Error()}
		}
		cfg.CompressionLevel = n
	}
	return cfg, nil
}

// RetryConfig controls PollBackendConfig.
type RetryConfig struct {
	// Keys holds the configuration keys to read.
	//
	// If Keys is the zero value, DefaultLookupKeys is used.
	Keys LookupKeys

	// MaxRetries holds the maximum number of retries after the first
	// attempt. A negative value disables retries.
	//
	// If MaxRetries is zero, the default of 5 will be used.
	MaxRetries int

	// InitialInterval holds the delay before the first retry. Delays grow
	// exponentially up to MaxInterval.
	//
	// If InitialInterval is zero, the default of 500 milliseconds will be
	// used.
	InitialInterval time.Duration

	// MaxInterval caps the delay between retries.
	//
	// If MaxInterval is zero, the default of 10 seconds will be used.
	MaxInterval time.Duration

	// Logger holds an optional Logger notified of every failed attempt.
	Logger *zap.Logger
}

// PollBackendConfig reads a BackendConfig from l, retrying with exponential
// backoff while required keys are missing. Malformed values are not
// retried. Once the retries are exhausted, the last error is returned; if
// ctx is done first, its error is returned.
func PollBackendConfig(ctx context.Context, l lookup.Lookup, rc RetryConfig) (BackendConfig, error) {
	if rc.Keys == (LookupKeys{}) {
		rc.Keys = DefaultLookupKeys()
	}
	if rc.MaxRetries == 0 {
		rc.MaxRetries = 5
	} else if rc.MaxRetries < 0 {
		rc.MaxRetries = 0
	}
	if rc.InitialInterval <= 0 {
		rc.InitialInterval = 500 * time.Millisecond
	}
	if rc.MaxInterval <= 0 {
		rc.MaxInterval = 10 * time.Second
	}
	if rc.Logger == nil {
		rc.Logger = zap.NewNop()
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = rc.InitialInterval
	exp.MaxInterval = rc.MaxInterval
	exp.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(rc.MaxRetries)), ctx)

	var cfg BackendConfig
	err := backoff.RetryNotify(func() error {
		c, err := BackendConfigFromLookup(l, rc.Keys)
		if err != nil {
			if errors.Is(err, ErrMissingConfig) {
				return err
			}
			return backoff.Permanent(err)
		}
		cfg = c
		return nil
	}, b, func(err error, next time.Duration) {
		rc.Logger.Warn("backend configuration not available, retrying",
			zap.Error(err),
			zap.Duration("backoff", next),
		)
	})
	if err != nil {
		return BackendConfig{}, err
	}
	return cfg, nil
}

// ActivateFromLookup polls l for the backend configuration with
// PollBackendConfig and activates the appender with it.
func (a *Appender) ActivateFromLookup(ctx context.Context, l lookup.Lookup, rc RetryConfig) error {
	if a.ready.Load() {
		return nil
	}
	if rc.Logger == nil {
		rc.Logger = a.config.Logger
	}
	cfg, err := PollBackendConfig(ctx, l, rc)
	if err != nil {
		a.config.Logger.Error("failed to resolve backend configuration, events remain buffered", zap.Error(err))
		return fmt.Errorf("failed to resolve backend configuration: %w", err)
	}
	return a.Activate(ctx, cfg)
}
