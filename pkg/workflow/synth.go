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
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/brain/pkg/llm"
)

// SynthesisInput is what a synthesizer sees once execution finished.
type SynthesisInput struct {
	Query string
	Tasks []*Task
}

// Synthesizer folds task results into one response.
type Synthesizer interface {
	Synthesize(ctx context.Context, in SynthesisInput) (string, error)
}

// TextSynthesizer renders task results as plain sections.
type TextSynthesizer struct{}

// Synthesize implements Synthesizer.
func (TextSynthesizer) Synthesize(_ context.Context, in SynthesisInput) (string, error) {
	done := 0
	for _, t := range in.Tasks {
		if t.Status == TaskDone {
			done++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Completed %d of %d tasks for %q.\n", done, len(in.Tasks), in.Query)
	for _, t := range in.Tasks {
		b.WriteString("\n## ")
		b.WriteString(t.Title)
		switch t.Status {
		case TaskDone:
			b.WriteString("\n")
			b.WriteString(renderResult(t.Result))
			b.WriteString("\n")
		case TaskFailed:
			b.WriteString(" (failed)\n")
			if t.Error != nil {
				fmt.Fprintf(&b, "%s: %s\n", t.Error.Code, t.Error.Message)
			}
		default:
			fmt.Fprintf(&b, " (%s)\n", t.Status)
		}
	}
	return b.String(), nil
}

func renderResult(v any) string {
	switch r := v.(type) {
	case nil:
		return "(no output)"
	case string:
		return r
	default:
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return fmt.Sprint(r)
		}
		return string(data)
	}
}

const synthSystemPrompt = `You summarize the results of tool calls into a direct answer to the user's request.
Mention failed steps briefly. Do not invent results that are not present.`

const maxResultChars = 4000

// LLMSynthesizer asks a language model for the final answer and falls back
// to Fallback when the model fails.
type LLMSynthesizer struct {
	Completer llm.Completer
	Fallback  Synthesizer
	Logger    *zap.Logger
}

// NewLLMSynthesizer creates an LLMSynthesizer that falls back to text.
func NewLLMSynthesizer(c llm.Completer, logger *zap.Logger) *LLMSynthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMSynthesizer{Completer: c, Fallback: TextSynthesizer{}, Logger: logger}
}

// Synthesize implements Synthesizer.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, in SynthesisInput) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\nTask results:\n", in.Query)
	for _, t := range in.Tasks {
		fmt.Fprintf(&b, "\n### %s [%s]\n", t.Title, t.Status)
		switch {
		case t.Status == TaskDone:
			b.WriteString(truncate(renderResult(t.Result), maxResultChars))
		case t.Error != nil:
			fmt.Fprintf(&b, "error %s: %s", t.Error.Code, t.Error.Message)
		}
		b.WriteString("\n")
	}

	answer, err := llm.Ask(ctx, s.Completer, synthSystemPrompt, b.String())
	if err == nil {
		return answer, nil
	}
	s.Logger.Warn("Synthesis model call failed, using text synthesis", zap.Error(err))
	fallback := s.Fallback
	if fallback == nil {
		fallback = TextSynthesizer{}
	}
	return fallback.Synthesize(ctx, in)
}
