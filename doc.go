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

// Package logappender ships application log events to an Elasticsearch
// compatible index.
//
// Events appended before the backend is configured are held in an unbounded
// in-memory buffer. Once Activate succeeds the buffer is drained in arrival
// order and every later event is indexed directly, one document per event.
// Indexing failures are logged and counted, and never reach the caller of
// Append: logging must not break the application.
//
// The package is not tied to a logging framework. NewCore and NewHandler
// adapt an Appender to zap and log/slog respectively.
package logappender
