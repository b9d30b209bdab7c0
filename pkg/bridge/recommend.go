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
	"sort"
	"strings"
	"unicode"
)

// intentKeywords widens a query word to the vocabulary tools use.
var intentKeywords = map[string][]string{
	"files":     {"file", "directory", "list"},
	"file":      {"file", "read"},
	"folder":    {"directory", "list"},
	"directory": {"directory", "list"},
	"show":      {"read", "list"},
	"open":      {"read", "file"},
	"find":      {"search"},
	"grep":      {"search"},
	"commit":    {"git", "log"},
	"commits":   {"git", "log"},
	"branch":    {"git"},
	"diff":      {"git"},
	"web":       {"search"},
	"test":      {"test", "run"},
	"tests":     {"test", "run"},
	"build":     {"build", "run"},
}

// Recommend ranks resolvable tools by keyword overlap with query and returns
// at most limit entries with a positive score. Ties keep catalog order.
func (b *Bridge) Recommend(query string, limit int) []CatalogEntry {
	terms := expandTerms(tokenize(query))
	if len(terms) == 0 {
		return nil
	}

	type scored struct {
		entry CatalogEntry
		score int
	}
	var ranked []scored
	for _, entry := range b.Catalog() {
		nameTokens := tokenize(entry.Capability.Name)
		descTokens := tokenize(entry.Capability.Description)
		score := 0
		for term := range terms {
			if containsToken(nameTokens, term) {
				score += 3
			}
			if containsToken(descTokens, term) {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{entry, score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]CatalogEntry, len(ranked))
	for i, r := range ranked {
		out[i] = r.entry
	}
	return out
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func expandTerms(words []string) map[string]bool {
	terms := make(map[string]bool, len(words))
	for _, w := range words {
		terms[w] = true
		for _, extra := range intentKeywords[w] {
			terms[extra] = true
		}
	}
	return terms
}

func containsToken(tokens []string, term string) bool {
	for _, t := range tokens {
		if t == term || strings.TrimSuffix(t, "s") == term {
			return true
		}
	}
	return false
}
