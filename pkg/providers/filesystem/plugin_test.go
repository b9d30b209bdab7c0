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

package filesystem

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlugin_ListTools(t *testing.T) {
	p, err := New(newTree(t))
	require.NoError(t, err)

	tools, err := p.Plugin().ListTools()
	require.NoError(t, err)
	require.Len(t, tools, 3)
	assert.Equal(t, "list_directory", tools[0].Name)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(tools[0].Schema), &schema))
	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []any{"path"}, schema["required"])
}

func TestPlugin_Call(t *testing.T) {
	p, err := New(newTree(t))
	require.NoError(t, err)
	tp := p.Plugin()

	out, err := tp.Call("read_file", `{"path":"main.go"}`)
	require.NoError(t, err)
	assert.Equal(t, "package main\n", out)

	_, err = tp.Call("read_file", `{"path":"missing.go"}`)
	assert.ErrorContains(t, err, "does not exist")

	_, err = tp.Call("format_disk", `{}`)
	assert.ErrorContains(t, err, "unknown tool")

	_, err = tp.Call("read_file", `not json`)
	assert.Error(t, err)
}
