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

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/brain/pkg/types"
)

func graph(specs ...[]string) []*Task {
	tasks := make([]*Task, len(specs))
	for i, s := range specs {
		tasks[i] = &Task{ID: s[0], Dependencies: s[1:], Status: TaskPending}
	}
	return tasks
}

func TestValidateGraph(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []*Task
		wantErr string
	}{
		{"valid diamond", graph([]string{"a"}, []string{"b", "a"}, []string{"c", "a"}, []string{"d", "b", "c"}), ""},
		{"forward reference", graph([]string{"b", "a"}, []string{"a"}), ""},
		{"empty id", graph([]string{""}), "has no id"},
		{"nil task", []*Task{{ID: "a"}, nil}, "task 2 is empty"},
		{"duplicate", graph([]string{"a"}, []string{"a"}), "duplicate task id"},
		{"self", graph([]string{"a", "a"}), "depends on itself"},
		{"unknown", graph([]string{"a", "zz"}), "unknown task"},
		{"cycle", graph([]string{"a", "c"}, []string{"b", "a"}, []string{"c", "b"}), "dependency cycle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGraph(tt.tasks)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLevels(t *testing.T) {
	tasks := graph([]string{"a"}, []string{"b", "a"}, []string{"c"}, []string{"d", "b", "c"})
	assert.Equal(t, [][]string{{"a", "c"}, {"b"}, {"d"}}, Levels(tasks))
}

func TestReadyTasks_DeclarationOrder(t *testing.T) {
	tasks := graph([]string{"z"}, []string{"y", "z"}, []string{"a"}, []string{"m"})
	tasks[3].Priority = PriorityCritical

	var ids []string
	for _, r := range readyTasks(tasks) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"z", "a", "m"}, ids)

	tasks[0].Status = TaskDone
	ids = nil
	for _, r := range readyTasks(tasks) {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"y", "a", "m"}, ids)
}

func TestBlockedBy(t *testing.T) {
	tasks := graph([]string{"a"}, []string{"b", "a"})
	assert.Empty(t, blockedBy(tasks[1], tasks))
	tasks[0].Status = TaskFailed
	assert.Equal(t, "a", blockedBy(tasks[1], tasks))
}

func TestPriority(t *testing.T) {
	assert.Equal(t, PriorityHigh, ParsePriority("HIGH"))
	assert.Equal(t, PriorityMedium, ParsePriority("whenever"))
	assert.Equal(t, "critical", PriorityCritical.String())

	text, err := PriorityLow.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "low", string(text))
}

func TestPhase_Terminal(t *testing.T) {
	for _, p := range []Phase{PhasePlanning, PhaseOrchestrating, PhaseExecuting} {
		assert.False(t, p.Terminal(), p)
	}
	for _, p := range []Phase{PhaseCompleted, PhaseFailed, PhaseCancelled} {
		assert.True(t, p.Terminal(), p)
	}
}
