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

// Package lookup resolves configuration values by key from the
// application's environment.
//
// Keys are dotted paths such as "elasticsearch.url". A Lookup reports
// whether the key is set; an empty value is a set value.
package lookup

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotFound is wrapped by errors reporting keys that could not be resolved.
var ErrNotFound = errors.New("key not found")

// Lookup resolves configuration values.
type Lookup interface {
	// Lookup returns the value of key and whether it is set.
	Lookup(key string) (string, bool)
}

// Func adapts a function to the Lookup interface.
type Func func(key string) (string, bool)

func (f Func) Lookup(key string) (string, bool) {
	return f(key)
}

// Map is a Lookup backed by a map of dotted keys.
type Map map[string]string

func (m Map) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// Env looks keys up in the process environment. A key is mapped to a
// variable name by upper-casing it and replacing dots and dashes with
// underscores, after Prefix: with Prefix "APP", "elasticsearch.url" is read
// from APP_ELASTICSEARCH_URL.
type Env struct {
	Prefix string

	// LookupEnv reads a variable. If nil, os.LookupEnv is used.
	LookupEnv func(string) (string, bool)
}

// VarName returns the environment variable name for key.
func (e Env) VarName(key string) string {
	name := strings.NewReplacer(".", "_", "-", "_").Replace(strings.ToUpper(key))
	if e.Prefix != "" {
		name = strings.ToUpper(strings.TrimSuffix(e.Prefix, "_")) + "_" + name
	}
	return name
}

func (e Env) Lookup(key string) (string, bool) {
	lookupEnv := e.LookupEnv
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	return lookupEnv(e.VarName(key))
}

// Chain returns a Lookup that consults each lookup in order and returns the
// first value found.
func Chain(lookups ...Lookup) Lookup {
	return chain(lookups)
}

type chain []Lookup

func (c chain) Lookup(key string) (string, bool) {
	for _, l := range c {
		if l == nil {
			continue
		}
		if v, ok := l.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// Get returns the value of key, or an error wrapping ErrNotFound.
func Get(l Lookup, key string) (string, error) {
	v, ok := l.Lookup(key)
	if !ok {
		return "", fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	return v, nil
}
