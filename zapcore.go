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
	"go.uber.org/zap/zapcore"
)

// NewCore returns a zapcore.Core that appends every enabled entry to a.
//
// The first error field (zap.Error, zap.NamedError) becomes the event error,
// with the entry stack trace when one was captured. A string field named
// "thread" becomes the event thread. All other fields are indexed as labels.
//
// If enab is nil, all levels from DebugLevel up are enabled.
func NewCore(a *Appender, enab zapcore.LevelEnabler) zapcore.Core {
	if enab == nil {
		enab = zapcore.DebugLevel
	}
	return &core{LevelEnabler: enab, appender: a}
}

type core struct {
	zapcore.LevelEnabler
	appender *Appender
	fields   []zapcore.Field
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(c.fields[:len(c.fields):len(c.fields)], fields...)
	return &clone
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	e := Event{
		Time:    ent.Time,
		Level:   levelFromZap(ent.Level),
		Logger:  ent.LoggerName,
		Message: ent.Message,
	}
	enc := zapcore.NewMapObjectEncoder()
	for _, fs := range [2][]zapcore.Field{c.fields, fields} {
		for _, f := range fs {
			switch f.Type {
			case zapcore.SkipType:
				continue
			case zapcore.ErrorType:
				if err, ok := f.Interface.(error); ok && e.Error == nil {
					e.Error = newErrorInfo(err, ent.Stack)
					continue
				}
			case zapcore.StringType:
				if f.Key == "thread" {
					e.Thread = f.String
					continue
				}
			}
			f.AddTo(enc)
		}
	}
	if ent.Caller.Defined {
		enc.AddString("caller", ent.Caller.TrimmedPath())
	}
	if e.Error == nil && ent.Stack != "" {
		enc.AddString("stack_trace", ent.Stack)
	}
	if len(enc.Fields) > 0 {
		e.Fields = enc.Fields
	}
	c.appender.Append(e)
	return nil
}

func (c *core) Sync() error {
	return nil
}

func levelFromZap(l zapcore.Level) Level {
	switch {
	case l < zapcore.DebugLevel:
		return TraceLevel
	case l == zapcore.DebugLevel:
		return DebugLevel
	case l == zapcore.InfoLevel:
		return InfoLevel
	case l == zapcore.WarnLevel:
		return WarnLevel
	case l == zapcore.ErrorLevel, l == zapcore.DPanicLevel:
		return ErrorLevel
	default:
		return FatalLevel
	}
}
