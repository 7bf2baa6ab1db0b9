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
	"fmt"
	"strings"
	"time"
)

// Level is the severity of an Event. Levels are ordered, TraceLevel being
// the least severe.
type Level int8

// The zero Level is InfoLevel.
const (
	TraceLevel Level = iota - 2
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the upper-case name of the level, as indexed.
func (l Level) String() string {
	switch l {
	case TraceLevel:
		return "TRACE"
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	}
	if l < TraceLevel {
		return "TRACE"
	}
	return "FATAL"
}

// ParseLevel parses a case-insensitive level name. Unknown names yield
// InfoLevel and false.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return TraceLevel, true
	case "DEBUG":
		return DebugLevel, true
	case "INFO":
		return InfoLevel, true
	case "WARN", "WARNING":
		return WarnLevel, true
	case "ERROR":
		return ErrorLevel, true
	case "FATAL", "PANIC", "DPANIC":
		return FatalLevel, true
	}
	return InfoLevel, false
}

// Event is one log record emitted by the host application.
type Event struct {
	// Time is the instant the record was emitted. It is indexed with
	// millisecond precision.
	Time time.Time

	Level   Level
	Logger  string
	Message string

	// Thread names the producer of the record. Go has no thread names;
	// adapters fill it from a "thread" field when the application logs one.
	Thread string

	// Error is set when the record carries an error.
	Error *ErrorInfo

	// Fields holds structured context attached by the host logger.
	Fields map[string]any

	// TraceID and SpanID link the record to the trace active when it was
	// emitted, hex encoded. Both are empty when there was none.
	TraceID string
	SpanID  string
}

// ErrorInfo describes an error attached to an Event.
type ErrorInfo struct {
	Type       string
	Message    string
	StackTrace string
}

// snapshot returns a copy of e that shares no mutable state with it. Label
// values that are not scalars are encoded immediately.
func (e Event) snapshot() Event {
	if e.Fields != nil {
		fields := make(map[string]any, len(e.Fields))
		for k, v := range e.Fields {
			fields[k] = freezeValue(v)
		}
		e.Fields = fields
	}
	if e.Error != nil {
		errInfo := *e.Error
		e.Error = &errInfo
	}
	return e
}

// newErrorInfo describes err. If stack is empty and err formats differently
// with %+v, as errors carrying a stack trace do, that form is used as the
// stack trace.
func newErrorInfo(err error, stack string) *ErrorInfo {
	info := &ErrorInfo{
		Type:       fmt.Sprintf("%T", err),
		Message:    err.Error(),
		StackTrace: stack,
	}
	if info.StackTrace == "" {
		if verbose := fmt.Sprintf("%+v", err); verbose != info.Message {
			info.StackTrace = verbose
		}
	}
	return info
}
