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
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.elastic.co/fastjson"
)

const (
	// UnknownHost is indexed as the host when the host name cannot be
	// resolved.
	UnknownHost = "unknown-host"

	// UnknownThread is indexed as the thread when the event carries none.
	UnknownThread = "unknown"

	// TimestampFormat is Elasticsearch's strict_date_optional_time format,
	// with millisecond precision.
	TimestampFormat = "2006-01-02T15:04:05.000Z07:00"
)

// Document is the flat representation of an Event sent to the index.
type Document struct {
	Timestamp time.Time
	Host      string
	Level     string
	Logger    string
	Message   string
	Thread    string
	TraceID   string
	SpanID    string
	Labels    map[string]any

	// Error is nil when the event carries no error, in which case the
	// field is omitted from the encoded document.
	Error *ErrorDocument
}

// ErrorDocument is the error sub-object of a Document.
type ErrorDocument struct {
	Type       string
	Message    string
	StackTrace string
}

// MarshalFastJSON encodes d as a JSON object.
func (d *Document) MarshalFastJSON(w *fastjson.Writer) error {
	w.RawString(`{"@timestamp":`)
	w.String(d.Timestamp.UTC().Format(TimestampFormat))
	w.RawString(`,"host":`)
	w.String(d.Host)
	w.RawString(`,"level":`)
	w.String(d.Level)
	w.RawString(`,"logger":`)
	w.String(d.Logger)
	w.RawString(`,"message":`)
	w.String(d.Message)
	w.RawString(`,"thread":`)
	w.String(d.Thread)
	if d.TraceID != "" {
		w.RawString(`,"trace.id":`)
		w.String(d.TraceID)
	}
	if d.SpanID != "" {
		w.RawString(`,"span.id":`)
		w.String(d.SpanID)
	}
	if len(d.Labels) > 0 {
		keys := make([]string, 0, len(d.Labels))
		for k := range d.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.RawString(`,"labels":{`)
		for i, k := range keys {
			if i > 0 {
				w.RawByte(',')
			}
			w.String(k)
			w.RawByte(':')
			writeValue(w, d.Labels[k])
		}
		w.RawByte('}')
	}
	if d.Error != nil {
		w.RawString(`,"error":{"type":`)
		w.String(d.Error.Type)
		w.RawString(`,"message":`)
		w.String(d.Error.Message)
		w.RawString(`,"stack_trace":`)
		w.String(d.Error.StackTrace)
		w.RawByte('}')
	}
	w.RawByte('}')
	return nil
}

// WriteTo writes the JSON encoding of d to out.
func (d *Document) WriteTo(out io.Writer) (int64, error) {
	var w fastjson.Writer
	if err := d.MarshalFastJSON(&w); err != nil {
		return 0, err
	}
	n, err := out.Write(w.Bytes())
	return int64(n), err
}

func writeValue(w *fastjson.Writer, v any) {
	switch v := v.(type) {
	case nil:
		w.RawString("null")
	case string:
		w.String(v)
	case bool:
		w.Bool(v)
	case int:
		w.Int64(int64(v))
	case int32:
		w.Int64(int64(v))
	case int64:
		w.Int64(v)
	case uint32:
		w.Uint64(uint64(v))
	case uint64:
		w.Uint64(v)
	case float32:
		writeFloat(w, float64(v))
	case float64:
		writeFloat(w, v)
	case encodedValue:
		w.RawBytes(v)
	case time.Time:
		w.String(v.UTC().Format(TimestampFormat))
	case time.Duration:
		w.String(v.String())
	case error:
		w.String(v.Error())
	case fmt.Stringer:
		w.String(v.String())
	default:
		// Values that cannot be encoded are indexed as their string form
		// rather than failing the whole document.
		encoded, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
		if err != nil {
			w.String(fmt.Sprint(v))
			return
		}
		w.RawBytes(encoded)
	}
}

// writeFloat writes v as a JSON number, or as a string for NaN and
// infinities, which JSON cannot represent.
func writeFloat(w *fastjson.Writer, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		w.String(strconv.FormatFloat(v, 'g', -1, 64))
		return
	}
	w.Float64(v)
}

// encodedValue is a label value encoded when its event was buffered.
type encodedValue []byte

// freezeValue returns v, or its encoding when v may refer to state the
// producer can still mutate.
func freezeValue(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int32, int64, uint32, uint64, float32, float64,
		time.Time, time.Duration, encodedValue:
		return v
	}
	var w fastjson.Writer
	writeValue(&w, v)
	return encodedValue(w.Bytes())
}

// Mapper converts events into documents.
type Mapper struct {
	host string
}

// NewMapper returns a Mapper that stamps documents with the host name
// returned by hostname. If hostname is nil, os.Hostname is used. If the host
// name cannot be resolved, UnknownHost is used instead.
func NewMapper(hostname func() (string, error)) *Mapper {
	if hostname == nil {
		hostname = os.Hostname
	}
	host, err := hostname()
	if host = strings.TrimSpace(host); err != nil || host == "" {
		host = UnknownHost
	}
	return &Mapper{host: host}
}

// Host returns the host name stamped on every document.
func (m *Mapper) Host() string {
	return m.host
}

// Map returns the document for e. Map performs no I/O and never fails.
func (m *Mapper) Map(e Event) Document {
	doc := Document{
		Timestamp: e.Time.Truncate(time.Millisecond),
		Host:      m.host,
		Level:     e.Level.String(),
		Logger:    e.Logger,
		Message:   e.Message,
		Thread:    e.Thread,
		TraceID:   e.TraceID,
		SpanID:    e.SpanID,
		Labels:    e.Fields,
	}
	if doc.Host == "" {
		doc.Host = UnknownHost
	}
	if doc.Thread == "" {
		doc.Thread = UnknownThread
	}
	if e.Error != nil {
		doc.Error = &ErrorDocument{
			Type:       e.Error.Type,
			Message:    e.Error.Message,
			StackTrace: e.Error.StackTrace,
		}
	}
	return doc
}
