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

package lookup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSyntax is wrapped by errors reporting malformed placeholders.
var ErrSyntax = errors.New("invalid placeholder")

// Expand replaces ${key} placeholders in s with values from l. A
// placeholder may carry a default, ${key:-default}, used when key is not
// set. "$$" yields a literal "$".
//
// Expand returns an error wrapping ErrNotFound listing every placeholder
// without a value or default, or an error wrapping ErrSyntax when s is
// malformed.
func Expand(s string, l Lookup) (string, error) {
	var b strings.Builder
	var missing []string
	for {
		i := strings.IndexByte(s, '$')
		if i < 0 || i == len(s)-1 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		switch s[i+1] {
		case '$':
			b.WriteByte('$')
			s = s[i+2:]
			continue
		case '{':
		default:
			b.WriteByte('$')
			s = s[i+1:]
			continue
		}
		end := strings.IndexByte(s[i+2:], '}')
		if end < 0 {
			return "", fmt.Errorf("%w: unterminated placeholder in %q", ErrSyntax, s[i:])
		}
		expr := s[i+2 : i+2+end]
		s = s[i+2+end+1:]

		key, def, hasDefault := strings.Cut(expr, ":-")
		key = strings.TrimSpace(key)
		if key == "" {
			return "", fmt.Errorf("%w: empty placeholder", ErrSyntax)
		}
		if v, ok := l.Lookup(key); ok {
			b.WriteString(v)
		} else if hasDefault {
			b.WriteString(def)
		} else {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved placeholders %s: %w", strings.Join(missing, ", "), ErrNotFound)
	}
	return b.String(), nil
}

// Expanding returns a Lookup that expands placeholders in the values of l,
// resolving them against resolver.
func Expanding(l, resolver Lookup) Lookup {
	return Func(func(key string) (string, bool) {
		v, ok := l.Lookup(key)
		if !ok {
			return "", false
		}
		expanded, err := Expand(v, resolver)
		if err != nil {
			return "", false
		}
		return expanded, true
	})
}
