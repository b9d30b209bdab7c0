// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// HealthState is the connection health of a tool provider.
type HealthState string

const (
	HealthConnected   HealthState = "connected"
	HealthDegraded    HealthState = "degraded"
	HealthUnreachable HealthState = "unreachable"
)

// Capability is one tool exposed by a provider.
type Capability struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Schema returns the tagged description of the capability's parameters.
func (c Capability) Schema() Schema {
	return SchemaFromJSON(c.Name, c.InputSchema)
}

// FieldType is the declared JSON type of a parameter.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldInteger FieldType = "integer"
	FieldBoolean FieldType = "boolean"
	FieldObject  FieldType = "object"
	FieldArray   FieldType = "array"
	FieldAny     FieldType = "any"
)

// Field is one parameter in a tagged schema description.
type Field struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
}

// Schema is a flattened view of a tool's JSON input schema: top-level fields
// with their type and required flag. Fields are sorted by name.
type Schema struct {
	Tool   string  `json:"tool"`
	Fields []Field `json:"fields"`
}

// SchemaFromJSON builds a Schema from a JSON-Schema object document.
func SchemaFromJSON(tool string, doc map[string]any) Schema {
	s := Schema{Tool: tool}
	if doc == nil {
		return s
	}

	required := make(map[string]bool)
	switch req := doc["required"].(type) {
	case []string:
		for _, r := range req {
			required[r] = true
		}
	case []any:
		for _, r := range req {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	props, _ := doc["properties"].(map[string]any)
	for name, raw := range props {
		f := Field{Name: name, Type: FieldAny, Required: required[name]}
		if prop, ok := raw.(map[string]any); ok {
			if t, ok := prop["type"].(string); ok && t != "" {
				f.Type = FieldType(t)
			}
			if d, ok := prop["description"].(string); ok {
				f.Description = d
			}
		}
		s.Fields = append(s.Fields, f)
	}
	// Required fields without a property entry still have to be present.
	for name := range required {
		if _, ok := props[name]; !ok {
			s.Fields = append(s.Fields, Field{Name: name, Type: FieldAny, Required: true})
		}
	}

	sort.Slice(s.Fields, func(i, j int) bool { return s.Fields[i].Name < s.Fields[j].Name })
	return s
}

// Check validates required-field presence and primitive types. It returns
// one message per problem, empty when params conform.
func (s Schema) Check(params map[string]any) []string {
	var problems []string
	for _, f := range s.Fields {
		v, ok := params[f.Name]
		if !ok || v == nil {
			if f.Required {
				problems = append(problems, fmt.Sprintf("%s: required field missing", f.Name))
			}
			continue
		}
		if !f.Type.Accepts(v) {
			problems = append(problems, fmt.Sprintf("%s: expected %s, got %s", f.Name, f.Type, jsonTypeOf(v)))
		}
	}
	return problems
}

// Summary renders the schema as a one-line signature, required fields
// marked with '*'. Used in planner prompts and CLI listings.
func (s Schema) Summary() string {
	parts := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		mark := ""
		if f.Required {
			mark = "*"
		}
		parts = append(parts, fmt.Sprintf("%s%s: %s", f.Name, mark, f.Type))
	}
	return fmt.Sprintf("%s(%s)", s.Tool, strings.Join(parts, ", "))
}

// Accepts reports whether v is a value of type t.
func (t FieldType) Accepts(v any) bool {
	switch t {
	case FieldAny, "":
		return true
	case FieldString:
		_, ok := v.(string)
		return ok
	case FieldBoolean:
		_, ok := v.(bool)
		return ok
	case FieldNumber:
		_, ok := toFloat(v)
		return ok
	case FieldInteger:
		f, ok := toFloat(v)
		return ok && f == math.Trunc(f)
	case FieldObject:
		_, ok := v.(map[string]any)
		return ok
	case FieldArray:
		switch v.(type) {
		case []any, []string, []int, []float64, []map[string]any:
			return true
		}
		return false
	}
	// Unknown declared types are left to the JSON-Schema validator.
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func jsonTypeOf(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any, []string, []int, []float64, []map[string]any:
		return "array"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
