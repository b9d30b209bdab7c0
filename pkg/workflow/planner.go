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
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/teradata-labs/brain/pkg/bridge"
	"github.com/teradata-labs/brain/pkg/types"
)

// PlanRequest is the input of a planner.
type PlanRequest struct {
	Query       string
	Catalog     []bridge.CatalogEntry
	Recommended []bridge.CatalogEntry
}

// Planner turns a query into a task graph. Declaration order is the order
// ready tasks are dispatched in.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) ([]*Task, error)
}

// PlannerFunc adapts a function to Planner.
type PlannerFunc func(ctx context.Context, req PlanRequest) ([]*Task, error)

func (f PlannerFunc) Plan(ctx context.Context, req PlanRequest) ([]*Task, error) {
	return f(ctx, req)
}

// KeywordPlanner maps recognizable intents to tool calls without a model.
// "then" chains dependent steps, "and" adds independent ones.
type KeywordPlanner struct{}

type intent struct {
	name     string
	keywords []string
	tools    func(words []string) []string
	build    func(clause string, words []string) (title string, params map[string]any)
}

var (
	thenSplit = regexp.MustCompile(`(?i)\s*,?\s*\bthen\b\s*`)
	andSplit  = regexp.MustCompile(`(?i)\s+and\s+`)
	quoted    = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
)

var prepositions = map[string]bool{"in": true, "under": true, "of": true, "from": true, "inside": true, "at": true}

var fillerWords = map[string]bool{
	"the": true, "a": true, "an": true, "my": true, "this": true, "current": true, "all": true,
	"directory": true, "folder": true, "files": true, "file": true, "repo": true, "repository": true,
	"please": true, "me": true, "show": true, "for": true, "project": true,
}

func fixed(tools ...string) func([]string) []string {
	return func([]string) []string { return tools }
}

// intents are matched in order; the first whose keyword appears wins.
var intents = []intent{
	{
		name:     "web",
		keywords: []string{"web", "internet", "online", "google"},
		tools:    fixed("web_search", "search_web", "exa_search"),
		build: func(clause string, words []string) (string, map[string]any) {
			q := afterWord(clause, "for")
			if q == "" {
				q = clause
			}
			return "Web search: " + q, map[string]any{"query": q}
		},
	},
	{
		name:     "git",
		keywords: []string{"git", "commit", "commits", "branch", "branches", "diff"},
		tools: func(words []string) []string {
			switch {
			case hasAny(words, "diff"):
				return []string{"git_diff"}
			case hasAny(words, "log", "commit", "commits", "history"):
				return []string{"git_log"}
			case hasAny(words, "branch", "branches"):
				return []string{"git_branches", "git_status"}
			}
			return []string{"git_status"}
		},
		build: func(clause string, words []string) (string, map[string]any) {
			title := "Git status"
			switch {
			case hasAny(words, "diff"):
				title = "Git diff"
			case hasAny(words, "log", "commit", "commits", "history"):
				title = "Git log"
			case hasAny(words, "branch", "branches"):
				title = "Git branches"
			}
			return title, map[string]any{"repo_path": pathArg(clause)}
		},
	},
	{
		name:     "search",
		keywords: []string{"search", "find", "grep", "locate"},
		tools:    fixed("search_files", "search_code", "grep"),
		build: func(clause string, words []string) (string, map[string]any) {
			pattern := searchPattern(clause)
			return "Search for " + pattern, map[string]any{"pattern": pattern, "path": pathArg(clause)}
		},
	},
	{
		name:     "read",
		keywords: []string{"read", "cat", "open", "view", "contents", "content"},
		tools:    fixed("read_file", "get_file_contents"),
		build: func(clause string, words []string) (string, map[string]any) {
			path := pathArg(clause)
			return "Read " + path, map[string]any{"path": path}
		},
	},
	{
		name:     "list",
		keywords: []string{"list", "ls", "files", "directory", "directories", "folder", "tree"},
		tools:    fixed("list_directory", "list_files"),
		build: func(clause string, words []string) (string, map[string]any) {
			path := pathArg(clause)
			return "List " + path, map[string]any{"path": path}
		},
	},
}

// Plan implements Planner.
func (KeywordPlanner) Plan(ctx context.Context, req PlanRequest) ([]*Task, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, types.NewPlanningError(nil, "empty query")
	}

	var tasks []*Task
	var previous []string
	for _, stage := range thenSplit.Split(query, -1) {
		var current []string
		for _, clause := range splitIndependent(stage) {
			in, ok := detectIntent(clause)
			if !ok {
				continue
			}
			t := buildTask(len(tasks)+1, clause, in, req.Catalog)
			t.Dependencies = append([]string(nil), previous...)
			tasks = append(tasks, t)
			current = append(current, t.ID)
		}
		if len(current) > 0 {
			previous = current
		}
	}

	if len(tasks) == 0 {
		return nil, types.NewPlanningError(nil, "no actionable intent in query %q", query)
	}
	return tasks, nil
}

// splitIndependent splits on "and", folding back parts without an intent
// so that "search for cats and dogs" stays one clause.
func splitIndependent(stage string) []string {
	var out []string
	for _, part := range andSplit.Split(strings.TrimSpace(stage), -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := detectIntent(part); !ok && len(out) > 0 {
			out[len(out)-1] += " and " + part
			continue
		}
		out = append(out, part)
	}
	return out
}

func detectIntent(clause string) (intent, bool) {
	ws := words(clause)
	for _, in := range intents {
		if hasAny(ws, in.keywords...) {
			return in, true
		}
	}
	return intent{}, false
}

func buildTask(n int, clause string, in intent, catalog []bridge.CatalogEntry) *Task {
	w := words(clause)
	title, params := in.build(clause, w)
	tool := chooseTool(in.tools(w), catalog)
	return &Task{
		ID:          fmt.Sprintf("task-%d", n),
		Title:       title,
		Description: clause,
		Priority:    PriorityMedium,
		Tool:        tool,
		Parameters:  fitParams(tool, params, catalog),
		Status:      TaskPending,
	}
}

// chooseTool returns the first candidate present in the catalog. When none
// is, the first candidate is kept so orchestration reports it unresolvable.
func chooseTool(candidates []string, catalog []bridge.CatalogEntry) string {
	for _, c := range candidates {
		for _, e := range catalog {
			if e.Capability.Name == c {
				return c
			}
		}
	}
	return candidates[0]
}

// fitParams drops parameters the tool's schema does not declare.
func fitParams(tool string, params map[string]any, catalog []bridge.CatalogEntry) map[string]any {
	for _, e := range catalog {
		if e.Capability.Name != tool {
			continue
		}
		schema := e.Capability.Schema()
		if len(schema.Fields) == 0 {
			return params
		}
		declared := make(map[string]bool, len(schema.Fields))
		for _, f := range schema.Fields {
			declared[f.Name] = true
		}
		out := make(map[string]any, len(params))
		for k, v := range params {
			if declared[k] {
				out[k] = v
			}
		}
		return out
	}
	return params
}

func words(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	for i, f := range fields {
		fields[i] = strings.Trim(f, `,;:!?"'()`)
	}
	return fields
}

func hasAny(words []string, keys ...string) bool {
	for _, w := range words {
		for _, k := range keys {
			if w == k {
				return true
			}
		}
	}
	return false
}

func cleanToken(tok string) string {
	tok = strings.Trim(tok, `,;:!?"'()`)
	if len(tok) > 1 && strings.HasSuffix(tok, ".") && !strings.HasSuffix(tok, "..") {
		tok = strings.TrimSuffix(tok, ".")
	}
	return tok
}

func looksLikePath(tok string) bool {
	return tok == "." || strings.Contains(tok, "/") || strings.HasPrefix(tok, "~") ||
		(strings.HasPrefix(tok, ".") && len(tok) > 1)
}

func looksLikeFile(tok string) bool {
	i := strings.LastIndex(tok, ".")
	return i > 0 && i < len(tok)-1
}

// pathArg extracts a path from a clause, defaulting to ".".
func pathArg(clause string) string {
	fields := strings.Fields(clause)
	for _, f := range fields {
		if tok := cleanToken(f); looksLikePath(tok) {
			return tok
		}
	}
	for _, f := range fields {
		if tok := cleanToken(f); looksLikeFile(tok) {
			return tok
		}
	}
	for i, f := range fields {
		if !prepositions[strings.ToLower(cleanToken(f))] {
			continue
		}
		for _, next := range fields[i+1:] {
			tok := cleanToken(next)
			if fillerWords[strings.ToLower(tok)] {
				continue
			}
			return tok
		}
	}
	return "."
}

// afterWord returns the text following the first occurrence of word.
func afterWord(clause, word string) string {
	fields := strings.Fields(clause)
	for i, f := range fields {
		if strings.EqualFold(cleanToken(f), word) && i+1 < len(fields) {
			return strings.Trim(strings.Join(fields[i+1:], " "), `,;:!?"'`)
		}
	}
	return ""
}

func searchPattern(clause string) string {
	if m := quoted.FindStringSubmatch(clause); m != nil {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	fields := strings.Fields(clause)
	start := 0
	for i, f := range fields {
		if strings.EqualFold(cleanToken(f), "for") {
			start = i + 1
			break
		}
	}
	var parts []string
	for _, f := range fields[start:] {
		tok := cleanToken(f)
		lower := strings.ToLower(tok)
		if prepositions[lower] {
			if len(parts) > 0 {
				break
			}
			continue
		}
		if start == 0 && (fillerWords[lower] || hasAny([]string{lower}, "search", "find", "grep", "locate")) {
			continue
		}
		if looksLikePath(tok) {
			continue
		}
		parts = append(parts, tok)
		if start == 0 {
			break
		}
	}
	if len(parts) == 0 {
		return clause
	}
	return strings.Join(parts, " ")
}
