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
	"strings"

	"github.com/teradata-labs/brain/pkg/types"
)

// ValidateGraph checks that task ids are unique and non-empty and that
// dependencies reference tasks of the same graph without forming a cycle.
func ValidateGraph(tasks []*Task) error {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		if t == nil {
			return types.NewValidationError("task %d is empty", i+1)
		}
		if strings.TrimSpace(t.ID) == "" {
			return types.NewValidationError("task %d has no id", i+1)
		}
		if _, dup := index[t.ID]; dup {
			return types.NewValidationError("duplicate task id %q", t.ID)
		}
		index[t.ID] = i
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if dep == t.ID {
				return types.NewValidationError("task %q depends on itself", t.ID)
			}
			if _, ok := index[dep]; !ok {
				return types.NewValidationError("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}

	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(tasks))
	var path []string
	var visit func(i int) error
	visit = func(i int) error {
		color[i] = grey
		path = append(path, tasks[i].ID)
		for _, dep := range tasks[i].Dependencies {
			j := index[dep]
			switch color[j] {
			case grey:
				return types.NewValidationError("dependency cycle: %s -> %s", strings.Join(path, " -> "), dep).
					WithDetail("cycle", append(append([]string(nil), path...), dep))
			case white:
				if err := visit(j); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		color[i] = black
		return nil
	}
	for i := range tasks {
		if color[i] == white {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// Levels groups task ids by dependency depth. Within a level ids keep
// declaration order. The graph must be valid.
func Levels(tasks []*Task) [][]string {
	depth := make(map[string]int, len(tasks))
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	var depthOf func(t *Task) int
	depthOf = func(t *Task) int {
		if d, ok := depth[t.ID]; ok {
			return d
		}
		d := 0
		for _, dep := range t.Dependencies {
			if dd := depthOf(byID[dep]) + 1; dd > d {
				d = dd
			}
		}
		depth[t.ID] = d
		return d
	}

	var levels [][]string
	for _, t := range tasks {
		d := depthOf(t)
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], t.ID)
	}
	return levels
}

// readyTasks returns pending tasks whose dependencies are all done, in
// declaration order.
func readyTasks(tasks []*Task) []*Task {
	status := make(map[string]TaskStatus, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}
	var ready []*Task
	for _, t := range tasks {
		if t.Status != TaskPending {
			continue
		}
		ok := true
		for _, dep := range t.Dependencies {
			if status[dep] != TaskDone {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}
	return ready
}

// blockedBy returns the first failed dependency of t, if any.
func blockedBy(t *Task, tasks []*Task) string {
	for _, dep := range t.Dependencies {
		for _, other := range tasks {
			if other.ID == dep && other.Status == TaskFailed {
				return dep
			}
		}
	}
	return ""
}
