// Copyright 2025 The Clarvis Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package router decides where each query goes: a specialist agent, direct
// handling by the orchestrator, or the fallback path. The decision pipeline
// is follow-up continuation, then greeting detection, then keyword/pattern
// classification, then an optional LLM fallback.
package router

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Scoring constants for the keyword/pattern classifier.
const (
	keywordScorePerMatch = 0.2
	keywordScoreCap      = 0.6
	patternScorePerMatch = 0.3
	patternScoreCap      = 0.6

	// ambiguityMargin is the minimum gap between the best and second-best
	// scores for the classification to count as unambiguous.
	ambiguityMargin = 0.1
)

// AgentRule is the per-agent classifier table: trigger keywords matched as
// whole words, and regex patterns matched case-insensitively.
type AgentRule struct {
	Keywords []string
	Patterns []string
}

// AgentScore is one entry of a ranked classification.
type AgentScore struct {
	AgentName       string
	Score           float64
	MatchedKeywords []string
	MatchedPatterns []string
}

// Classification is the ranked result of classifying one query.
type Classification struct {
	// Ranked is ordered by descending score; ties keep the classifier's
	// agent insertion order. Agents with zero score are omitted.
	Ranked []AgentScore

	// Ambiguous is set when the best and second-best scores are both
	// positive and differ by less than the ambiguity margin.
	Ambiguous bool
}

// Best returns the top-ranked agent score, or nil for an empty ranking.
func (c Classification) Best() *AgentScore {
	if len(c.Ranked) == 0 {
		return nil
	}
	return &c.Ranked[0]
}

// Classifier scores queries against a per-agent keyword/pattern table. It is
// a pure function of its configuration and safe for concurrent use.
type Classifier struct {
	order    []string
	rules    map[string]AgentRule
	keywords map[string][]*regexp.Regexp
	patterns map[string][]*regexp.Regexp
}

// NewClassifier compiles the rule table. The iteration order of rules follows
// the order slice; a regex that fails to compile is a fatal configuration
// error.
func NewClassifier(order []string, rules map[string]AgentRule) (*Classifier, error) {
	c := &Classifier{
		order:    append([]string(nil), order...),
		rules:    make(map[string]AgentRule, len(rules)),
		keywords: make(map[string][]*regexp.Regexp, len(rules)),
		patterns: make(map[string][]*regexp.Regexp, len(rules)),
	}

	for _, name := range order {
		rule, ok := rules[name]
		if !ok {
			continue
		}
		c.rules[name] = rule

		for _, kw := range rule.Keywords {
			re, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToLower(kw)) + `\b`)
			if err != nil {
				return nil, fmt.Errorf("classifier keyword %q for agent %s: %w", kw, name, err)
			}
			c.keywords[name] = append(c.keywords[name], re)
		}

		for _, pat := range rule.Patterns {
			re, err := regexp.Compile(`(?i)` + pat)
			if err != nil {
				return nil, fmt.Errorf("classifier pattern %q for agent %s: %w", pat, name, err)
			}
			c.patterns[name] = append(c.patterns[name], re)
		}
	}

	return c, nil
}

// Classify scores query against every agent's rule table. An empty query
// yields an empty ranking.
func (c *Classifier) Classify(query string) Classification {
	query = strings.TrimSpace(query)
	if query == "" {
		return Classification{}
	}
	queryLower := strings.ToLower(query)

	var ranked []AgentScore
	for _, name := range c.order {
		rule, ok := c.rules[name]
		if !ok {
			continue
		}

		var matchedKeywords []string
		for i, re := range c.keywords[name] {
			if re.MatchString(queryLower) {
				matchedKeywords = append(matchedKeywords, rule.Keywords[i])
			}
		}
		keywordScore := float64(len(matchedKeywords)) * keywordScorePerMatch
		if keywordScore > keywordScoreCap {
			keywordScore = keywordScoreCap
		}

		var matchedPatterns []string
		for i, re := range c.patterns[name] {
			if re.MatchString(query) {
				matchedPatterns = append(matchedPatterns, rule.Patterns[i])
			}
		}
		patternScore := float64(len(matchedPatterns)) * patternScorePerMatch
		if patternScore > patternScoreCap {
			patternScore = patternScoreCap
		}

		score := keywordScore + patternScore
		if score > 1.0 {
			score = 1.0
		}
		if score == 0 {
			continue
		}

		ranked = append(ranked, AgentScore{
			AgentName:       name,
			Score:           score,
			MatchedKeywords: matchedKeywords,
			MatchedPatterns: matchedPatterns,
		})
	}

	// Stable sort preserves insertion order among equal scores.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	ambiguous := len(ranked) > 1 &&
		ranked[1].Score > 0 &&
		ranked[0].Score-ranked[1].Score < ambiguityMargin

	return Classification{Ranked: ranked, Ambiguous: ambiguous}
}
