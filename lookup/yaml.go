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
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads a YAML document from path and returns its scalar values as
// a Map keyed by dotted path. Sequence elements are keyed by index, as in
// "hosts.0".
func LoadYAML(path string) (Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML parses a YAML document into a Map, see LoadYAML.
func ParseYAML(data []byte) (Map, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	m := make(Map)
	if len(root.Content) == 0 {
		return m, nil
	}
	if err := flatten(m, "", root.Content[0]); err != nil {
		return nil, err
	}
	return m, nil
}

func flatten(m Map, prefix string, node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			if err := flatten(m, join(prefix, node.Content[i].Value), node.Content[i+1]); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for i, child := range node.Content {
			if err := flatten(m, join(prefix, strconv.Itoa(i)), child); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
		m[prefix] = node.Value
	case yaml.AliasNode:
		return flatten(m, prefix, node.Alias)
	default:
		return fmt.Errorf("unsupported YAML node at %q", prefix)
	}
	return nil
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
