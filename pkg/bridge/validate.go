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

package bridge

import (
	"github.com/xeipuuv/gojsonschema"

	"github.com/teradata-labs/brain/pkg/types"
)

// ValidateParams checks params against the capability's declared schema:
// first structurally (required fields and primitive types), then against
// the full JSON Schema. It never contacts a provider.
func ValidateParams(c types.Capability, params map[string]any) error {
	if problems := c.Schema().Check(params); len(problems) > 0 {
		return types.NewValidationError("invalid parameters for %s", c.Name).
			WithDetail("problems", problems)
	}

	if len(c.InputSchema) == 0 {
		return nil // No schema = no validation
	}

	schemaLoader := gojsonschema.NewGoLoader(c.InputSchema)
	argsLoader := gojsonschema.NewGoLoader(params)

	result, err := gojsonschema.Validate(schemaLoader, argsLoader)
	if err != nil {
		return types.NewValidationError("schema for %s could not be evaluated: %v", c.Name, err)
	}

	if !result.Valid() {
		problems := make([]string, len(result.Errors()))
		for i, e := range result.Errors() {
			problems[i] = e.String()
		}
		return types.NewValidationError("invalid parameters for %s", c.Name).
			WithDetail("problems", problems)
	}
	return nil
}
