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

package router

import (
	ctxpkg "context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/clarvis-ai/clarvis/pkg/context"
	"github.com/clarvis-ai/clarvis/pkg/llms"
	"github.com/clarvis-ai/clarvis/pkg/registry"
)

// Decision tells the orchestrator where a query goes. Exactly one of three
// shapes holds: HandleDirectly is true, AgentName names a registered agent,
// or AgentName is empty (fallback).
type Decision struct {
	AgentName      string
	Confidence     float64
	Reasoning      string
	HandleDirectly bool
}

// Options configures a Router.
type Options struct {
	// Threshold is the minimum classifier score for code-based routing.
	Threshold float64

	// LLMEnabled enables the LLM fallback for ambiguous queries.
	LLMEnabled bool

	// FollowUpDetection enables the follow-up continuation check.
	FollowUpDetection bool

	// DefaultAgent receives queries when no other rule decides. Empty means
	// fallback.
	DefaultAgent string

	// LogDecisions emits an info record per routing decision.
	LogDecisions bool
}

// Router produces routing decisions by combining follow-up detection, the
// lexical greeting check, the keyword/pattern classifier, and an optional
// LLM fallback, in that order, short-circuiting on the first hit.
//
// The classifier and options can be swapped at runtime with Update; each
// decision uses a consistent snapshot of both.
type Router struct {
	registry *registry.AgentRegistry
	llm      llms.Provider

	mu         sync.RWMutex
	classifier *Classifier
	opts       Options
}

// New creates a Router. llm may be nil when Options.LLMEnabled is false.
func New(reg *registry.AgentRegistry, classifier *Classifier, llm llms.Provider, opts Options) *Router {
	if opts.Threshold == 0 {
		opts.Threshold = 0.7
	}
	return &Router{
		registry:   reg,
		classifier: classifier,
		llm:        llm,
		opts:       opts,
	}
}

// Update swaps the classifier and options. In-flight decisions finish with
// the snapshot they started from; subsequent decisions use the new pair.
func (r *Router) Update(classifier *Classifier, opts Options) {
	if opts.Threshold == 0 {
		opts.Threshold = 0.7
	}
	r.mu.Lock()
	r.classifier = classifier
	r.opts = opts
	r.mu.Unlock()
}

// Route decides where query goes. conv may be nil for fresh sessions.
func (r *Router) Route(ctx ctxpkg.Context, query string, conv *context.ConversationContext) Decision {
	r.mu.RLock()
	classifier, opts := r.classifier, r.opts
	r.mu.RUnlock()

	decision := r.route(ctx, query, conv, classifier, opts)
	if opts.LogDecisions {
		slog.Info("Routing decision",
			"agent", decision.AgentName,
			"direct", decision.HandleDirectly,
			"confidence", decision.Confidence,
			"reasoning", decision.Reasoning,
		)
	}
	return decision
}

func (r *Router) route(ctx ctxpkg.Context, query string, conv *context.ConversationContext, classifier *Classifier, opts Options) Decision {
	if d := r.checkFollowUp(query, conv, opts); d != nil {
		return *d
	}

	if d := r.checkDirect(query); d != nil {
		return *d
	}

	classification := classifier.Classify(query)
	best := classification.Best()

	if best != nil && best.Score >= opts.Threshold && !classification.Ambiguous {
		return Decision{
			AgentName:  best.AgentName,
			Confidence: best.Score,
			Reasoning:  fmt.Sprintf("Code-based routing: matched keywords %v", best.MatchedKeywords),
		}
	}

	if opts.LLMEnabled && r.llm != nil {
		return r.llmRoute(ctx, query, classification, conv, opts)
	}

	if opts.DefaultAgent != "" {
		if _, ok := r.registry.Get(opts.DefaultAgent); ok {
			return Decision{
				AgentName:  opts.DefaultAgent,
				Confidence: 0.5,
				Reasoning:  "LLM routing disabled, using default agent",
			}
		}
	}

	if best != nil && !classification.Ambiguous {
		return Decision{
			AgentName:  best.AgentName,
			Confidence: best.Score,
			Reasoning:  "LLM disabled, using low-confidence code match",
		}
	}

	return Decision{
		Confidence: 0,
		Reasoning:  "No agent match found",
	}
}

// checkFollowUp returns a decision when the query continues the previous
// agent's topic and that agent is still registered.
func (r *Router) checkFollowUp(query string, conv *context.ConversationContext, opts Options) *Decision {
	if !opts.FollowUpDetection || conv == nil {
		return nil
	}

	ok, agentName := conv.ShouldContinueWithAgent(query)
	if !ok {
		return nil
	}
	if _, registered := r.registry.Get(agentName); !registered {
		return nil
	}

	// 0.9 rather than 1.0 since this is a heuristic.
	return &Decision{
		AgentName:  agentName,
		Confidence: 0.9,
		Reasoning:  fmt.Sprintf("Follow-up detected, continuing with %s", agentName),
	}
}

// checkDirect returns a direct-handling decision for pure greetings and
// acknowledgments.
func (r *Router) checkDirect(query string) *Decision {
	queryLower := strings.ToLower(strings.TrimSpace(query))

	for _, pattern := range greetingPatterns {
		if matchesLexical(queryLower, pattern) {
			return &Decision{
				Confidence:     1.0,
				Reasoning:      fmt.Sprintf("Greeting detected: %q", pattern),
				HandleDirectly: true,
			}
		}
	}

	for _, pattern := range thanksPatterns {
		if matchesLexical(queryLower, pattern) {
			return &Decision{
				Confidence:     1.0,
				Reasoning:      fmt.Sprintf("Thanks/acknowledgment detected: %q", pattern),
				HandleDirectly: true,
			}
		}
	}

	return nil
}

// llmRoute asks the router model to pick an agent. Errors degrade to the
// code classification when it has any signal, else to the fallback path.
func (r *Router) llmRoute(ctx ctxpkg.Context, query string, classification Classification, conv *context.ConversationContext, opts Options) Decision {
	system := fmt.Sprintf(routerSystemPrompt, formatCapabilities(r.registry))

	userMessage := "Query: " + query
	if conv != nil && conv.TurnCount() > 0 {
		userMessage = fmt.Sprintf("Recent conversation:\n%s\n\nNew query: %s", conv.RecentContext(3), query)
	}
	if best := classification.Best(); best != nil && !classification.Ambiguous {
		userMessage += fmt.Sprintf("\n\nCode-based hint: Possibly %s (confidence: %.2f)", best.AgentName, best.Score)
	}

	text, err := r.llm.Generate(ctx, system, []llms.Message{{Role: "user", Content: userMessage}})
	if err != nil {
		return r.llmErrorFallback(classification, err, opts)
	}

	return r.parseLLMResponse(text)
}

func (r *Router) parseLLMResponse(text string) Decision {
	decision := Decision{
		Confidence: 0.5,
		Reasoning:  "LLM routing",
	}
	sawAgent := false

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "AGENT:"):
			value := strings.TrimSpace(line[len("AGENT:"):])
			sawAgent = true
			switch strings.ToUpper(value) {
			case "DIRECT":
				decision.HandleDirectly = true
				decision.AgentName = ""
			case "NONE", "":
				decision.AgentName = ""
			default:
				decision.AgentName = strings.ToLower(value)
			}
		case strings.HasPrefix(upper, "CONFIDENCE:"):
			if v, err := strconv.ParseFloat(strings.TrimSpace(line[len("CONFIDENCE:"):]), 64); err == nil {
				decision.Confidence = min(max(v, 0), 1)
			}
		case strings.HasPrefix(upper, "REASONING:"):
			decision.Reasoning = strings.TrimSpace(line[len("REASONING:"):])
		}
	}

	if !sawAgent {
		return Decision{Reasoning: "LLM response unparseable"}
	}

	if decision.AgentName != "" {
		if _, ok := r.registry.Get(decision.AgentName); !ok {
			decision.AgentName = ""
			decision.Reasoning = "LLM suggested unknown agent"
		}
	}

	return decision
}

func (r *Router) llmErrorFallback(classification Classification, err error, opts Options) Decision {
	if best := classification.Best(); best != nil && best.Score > 0.3 && !classification.Ambiguous {
		return Decision{
			AgentName:  best.AgentName,
			Confidence: best.Score,
			Reasoning:  fmt.Sprintf("LLM routing failed (%v), using code classification", err),
		}
	}

	if opts.DefaultAgent != "" {
		if _, ok := r.registry.Get(opts.DefaultAgent); ok {
			return Decision{
				AgentName:  opts.DefaultAgent,
				Confidence: 0.3,
				Reasoning:  fmt.Sprintf("LLM routing failed (%v), using default agent", err),
			}
		}
	}

	return Decision{
		Reasoning: fmt.Sprintf("LLM routing failed (%v), no confident match", err),
	}
}
