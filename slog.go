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
	"log/slog"
	"strings"
)

// HandlerOptions holds options for NewHandler.
type HandlerOptions struct {
	// Level reports the minimum level to append.
	//
	// If Level is nil, slog.LevelDebug is used.
	Level slog.Leveler

	// Logger is indexed as the logger name of every event.
	Logger string
}

// NewHandler returns a slog.Handler that appends every enabled record to a.
//
// An attribute holding an error, under the key "error" or "err", becomes
// the event error. A string attribute named "thread" becomes the event
// thread. Other attributes are indexed as labels, group names joined with
// dots. Records are linked to the OTel or Elastic APM trace active in the
// context passed to the logger.
func NewHandler(a *Appender, opts *HandlerOptions) slog.Handler {
	h := &handler{appender: a}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelDebug
	}
	return h
}

type handler struct {
	appender *Appender
	opts     HandlerOptions
	attrs    []slog.Attr
	prefix   string
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *handler) Handle(ctx context.Context, r slog.Record) error {
	e := Event{
		Time:    r.Time,
		Level:   levelFromSlog(r.Level),
		Logger:  h.opts.Logger,
		Message: r.Message,
	}
	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, attr := range h.attrs {
		e.addAttr(fields, "", attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		e.addAttr(fields, h.prefix, attr)
		return true
	})
	if len(fields) > 0 {
		e.Fields = fields
	}
	h.appender.Append(e.WithTraceContext(ctx))
	return nil
}

// addAttr records attr in e, flattening groups into dotted keys.
func (e *Event) addAttr(fields map[string]any, prefix string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix = prefix + attr.Key + "."
		}
		for _, ga := range attr.Value.Group() {
			e.addAttr(fields, groupPrefix, ga)
		}
		return
	}
	if prefix == "" {
		switch attr.Key {
		case "error", "err":
			if err, ok := attr.Value.Any().(error); ok && e.Error == nil {
				e.Error = newErrorInfo(err, "")
				return
			}
		case "thread":
			if attr.Value.Kind() == slog.KindString {
				e.Thread = attr.Value.String()
				return
			}
		}
	}
	fields[prefix+attr.Key] = attr.Value.Any()
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	for _, attr := range attrs {
		if h.prefix != "" {
			attr = slog.Attr{Key: strings.TrimSuffix(h.prefix, "."), Value: slog.GroupValue(attr)}
		}
		h2.attrs = append(h2.attrs, attr)
	}
	return &h2
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func levelFromSlog(l slog.Level) Level {
	switch {
	case l < slog.LevelDebug:
		return TraceLevel
	case l < slog.LevelInfo:
		return DebugLevel
	case l < slog.LevelWarn:
		return InfoLevel
	case l < slog.LevelError:
		return WarnLevel
	case l < slog.LevelError+4:
		return ErrorLevel
	default:
		return FatalLevel
	}
}
