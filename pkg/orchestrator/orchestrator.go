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

// Package orchestrator dispatches queries per the router's decision, owns
// the session store, and enforces per-agent rate limits.
package orchestrator

import (
	ctxpkg "context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clarvis-ai/clarvis/pkg/agent"
	"github.com/clarvis-ai/clarvis/pkg/config"
	"github.com/clarvis-ai/clarvis/pkg/context"
	"github.com/clarvis-ai/clarvis/pkg/llms"
	"github.com/clarvis-ai/clarvis/pkg/ratelimit"
	"github.com/clarvis-ai/clarvis/pkg/registry"
	"github.com/clarvis-ai/clarvis/pkg/router"
)

// ErrUnknownAgent is returned by ProcessAgent for unregistered agent names.
var ErrUnknownAgent = errors.New("unknown agent")

// Name is the agent name reported for directly handled queries.
const Name = "orchestrator"

// FallbackName is the agent name reported when no agent could be chosen.
const FallbackName = "fallback"

// directSystemPrompt frames direct handling of greetings and small talk.
const directSystemPrompt = `You are Clarvis, a helpful AI home assistant.
You can help with email, notes, ski conditions, and other tasks through specialized agents.
For greetings, thanks, and general questions, respond naturally and helpfully.
Keep responses concise and friendly.`

// directFallbackText is spoken when the direct-handling LLM call fails.
const directFallbackText = "Hello! I'm Clarvis, your AI assistant. How can I help you today?"

// agentErrorText is the user-visible text for a contained agent failure.
const agentErrorText = "I tried to help with your request, but encountered an issue. Please try again."

// Options wires an Orchestrator's collaborators.
type Options struct {
	Config    *config.Config
	Registry  *registry.AgentRegistry
	Router    *router.Router
	DirectLLM llms.Provider
	Sessions  *context.SessionStore

	// LogAgentResponses emits full agent responses at debug level.
	LogAgentResponses bool
}

// Orchestrator handles queries end to end: session resolution, routing,
// dispatch, and turn recording. Safe for concurrent use; queries against the
// same session serialize on the per-session mutex.
type Orchestrator struct {
	registry     *registry.AgentRegistry
	router       *router.Router
	llm          llms.Provider
	sessions     *context.SessionStore
	limiters     map[string]*ratelimit.SlidingWindowLimiter
	logResponses bool

	annMu         sync.RWMutex
	announcements map[string]string
}

// New creates an Orchestrator from opts. Rate limiters are built from the
// config's rate_limits table; agents without their own rule share the
// "default" rule.
func New(opts Options) *Orchestrator {
	limiters := make(map[string]*ratelimit.SlidingWindowLimiter)
	announcements := map[string]string{}
	if opts.Config != nil {
		for name, rule := range opts.Config.RateLimits {
			if rule == nil {
				continue
			}
			limiters[name] = ratelimit.NewSlidingWindow(ratelimit.Config{
				MaxEvents: rule.MaxEvents,
				Window:    time.Duration(rule.WindowSeconds) * time.Second,
			})
		}
		announcements = opts.Config.Announcements
	}

	return &Orchestrator{
		registry:      opts.Registry,
		router:        opts.Router,
		llm:           opts.DirectLLM,
		sessions:      opts.Sessions,
		limiters:      limiters,
		announcements: announcements,
		logResponses:  opts.LogAgentResponses,
	}
}

// Sessions exposes the session store for sweeping and inspection.
func (o *Orchestrator) Sessions() *context.SessionStore {
	return o.sessions
}

// Healthy reports whether at least one registered agent passes its health
// probe. An empty registry is unhealthy; there is nothing to serve queries.
func (o *Orchestrator) Healthy(ctx ctxpkg.Context) bool {
	for _, ok := range o.registry.HealthCheckAll(ctx) {
		if ok {
			return true
		}
	}
	return false
}

// SetAnnouncements replaces the per-agent announcement table. Called when the
// configuration is reloaded.
func (o *Orchestrator) SetAnnouncements(announcements map[string]string) {
	o.annMu.Lock()
	o.announcements = announcements
	o.annMu.Unlock()
}

func (o *Orchestrator) announcement(agentName string) string {
	o.annMu.RLock()
	defer o.annMu.RUnlock()
	return o.announcements[agentName]
}

// Process handles a buffered query. The returned session id is always set,
// echoed from an unexpired session or freshly minted.
func (o *Orchestrator) Process(ctx ctxpkg.Context, query, sessionID string) (*agent.Response, string, error) {
	conv := o.sessions.GetOrCreate(sessionID)
	conv.LockSession()
	defer conv.UnlockSession()

	slog.Info("Processing query", "session", conv.SessionID(), "query", truncate(query, 50))

	decision := o.router.Route(ctx, query, conv)

	var resp *agent.Response
	switch {
	case decision.HandleDirectly:
		resp = o.handleDirect(ctx, query, conv)
	case decision.AgentName != "":
		resp = o.handleAgent(ctx, decision.AgentName, query, conv)
	default:
		resp = o.handleFallback()
	}

	if resp.Success {
		conv.AddTurn(query, resp.Content, resp.AgentName)
	}
	if o.logResponses {
		slog.Debug("Agent response", "agent", resp.AgentName, "content", resp.Content)
	}

	return resp, conv.SessionID(), nil
}

// ProcessAgent bypasses the router and calls one agent directly. No session
// state is consulted or recorded.
func (o *Orchestrator) ProcessAgent(ctx ctxpkg.Context, agentName, query string) (*agent.Response, error) {
	a, ok := o.registry.Get(agentName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentName)
	}

	if denied := o.checkRateLimit(agentName); denied != nil {
		return denied, nil
	}

	return safeProcess(ctx, a, query, nil), nil
}

// Stream handles a streaming query. Chunks arrive in emission order; the
// channel closes after the last chunk. An error chunk, when present, is the
// final chunk. The session id is returned immediately so the transport can
// frame chunks before the stream starts.
func (o *Orchestrator) Stream(ctx ctxpkg.Context, query, sessionID string) (<-chan agent.Chunk, string) {
	conv := o.sessions.GetOrCreate(sessionID)
	out := make(chan agent.Chunk)

	go func() {
		defer close(out)

		conv.LockSession()
		defer conv.UnlockSession()

		slog.Info("Streaming query", "session", conv.SessionID(), "query", truncate(query, 50))

		decision := o.router.Route(ctx, query, conv)

		var (
			agentUsed string
			collected strings.Builder
		)

		emit := func(text string) bool {
			select {
			case out <- agent.Chunk{Text: text}:
				collected.WriteString(text)
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			select {
			case out <- agent.Chunk{Err: err}:
			case <-ctx.Done():
			}
		}

		switch {
		case decision.HandleDirectly:
			agentUsed = Name
			if !o.streamDirect(ctx, query, conv, emit) {
				return
			}

		case decision.AgentName != "":
			agentUsed = decision.AgentName

			if denied := o.checkRateLimit(decision.AgentName); denied != nil {
				fail(errors.New(denied.Content))
				return
			}

			// The announcement reduces perceived latency for voice
			// clients; it is not part of the turn history.
			if ann := o.announcement(decision.AgentName); ann != "" {
				select {
				case out <- agent.Chunk{Text: ann}:
				case <-ctx.Done():
					return
				}
			}

			a, ok := o.registry.Get(decision.AgentName)
			if !ok {
				agentUsed = FallbackName
				if !emit(o.fallbackText()) {
					return
				}
				break
			}

			ok, err := o.relayAgentStream(ctx, a, query, conv, emit)
			if err != nil {
				fail(err)
				return
			}
			if !ok {
				return
			}

		default:
			agentUsed = FallbackName
			if !emit(o.fallbackText()) {
				return
			}
		}

		// The turn is recorded only after the stream completed normally,
		// so follow-up detection never chases a cancelled or failed reply.
		conv.AddTurn(query, collected.String(), agentUsed)
	}()

	return out, conv.SessionID()
}

// streamDirect streams the direct-handling LLM response. Returns false when
// the context was cancelled.
func (o *Orchestrator) streamDirect(ctx ctxpkg.Context, query string, conv *context.ConversationContext, emit func(string) bool) bool {
	if o.llm == nil {
		return emit(directFallbackText)
	}

	chunks, err := o.llm.GenerateStreaming(ctx, directSystemPrompt, o.directMessages(query, conv))
	if err != nil {
		slog.Error("Direct streaming failed", "error", err)
		return emit(directFallbackText)
	}

	emitted := false
	for chunk := range chunks {
		switch chunk.Type {
		case "text":
			if !emit(chunk.Text) {
				return false
			}
			emitted = true
		case "error":
			slog.Error("Direct streaming failed", "error", chunk.Error)
			if emitted {
				// Partial direct output; end the stream without the
				// canned fallback.
				return true
			}
			return emit(directFallbackText)
		}
	}
	return true
}

// relayAgentStream forwards an agent's chunks. Returns (false, nil) on
// cancellation, (false, err) on an agent error chunk.
func (o *Orchestrator) relayAgentStream(ctx ctxpkg.Context, a agent.Agent, query string, conv *context.ConversationContext, emit func(string) bool) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Agent stream panicked", "agent", a.Name(), "panic", r)
			done, err = false, fmt.Errorf("agent %s failed", a.Name())
		}
	}()

	chunks, err := a.Stream(ctx, query, conv)
	if err != nil {
		slog.Error("Agent stream failed to start", "agent", a.Name(), "error", err)
		return false, errors.New(agentErrorText)
	}

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return true, nil
			}
			if chunk.Err != nil {
				slog.Error("Agent stream failed", "agent", a.Name(), "error", chunk.Err)
				return false, errors.New(agentErrorText)
			}
			if !emit(chunk.Text) {
				return false, nil
			}
		case <-ctx.Done():
			return false, nil
		}
	}
}

func (o *Orchestrator) handleDirect(ctx ctxpkg.Context, query string, conv *context.ConversationContext) *agent.Response {
	if o.llm == nil {
		return &agent.Response{
			Content:   directFallbackText,
			Success:   true,
			AgentName: Name,
			Metadata:  map[string]any{"handled_directly": true, "fallback": true},
		}
	}

	content, err := o.llm.Generate(ctx, directSystemPrompt, o.directMessages(query, conv))
	if err != nil {
		slog.Error("Direct handling failed", "error", err)
		return &agent.Response{
			Content:   directFallbackText,
			Success:   true,
			AgentName: Name,
			Metadata:  map[string]any{"handled_directly": true, "fallback": true},
		}
	}

	return &agent.Response{
		Content:   content,
		Success:   true,
		AgentName: Name,
		Metadata:  map[string]any{"handled_directly": true},
	}
}

func (o *Orchestrator) directMessages(query string, conv *context.ConversationContext) []llms.Message {
	if conv != nil && conv.TurnCount() > 0 {
		return []llms.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Recent conversation:\n%s\n\nNew query: %s", conv.RecentContext(2), query),
		}}
	}
	return []llms.Message{{Role: "user", Content: query}}
}

func (o *Orchestrator) handleAgent(ctx ctxpkg.Context, agentName, query string, conv *context.ConversationContext) *agent.Response {
	a, ok := o.registry.Get(agentName)
	if !ok {
		slog.Warn("Routed agent not in registry", "agent", agentName)
		return o.handleFallback()
	}

	if denied := o.checkRateLimit(agentName); denied != nil {
		return denied
	}

	slog.Info("Delegating to agent", "agent", agentName)
	return safeProcess(ctx, a, query, conv)
}

func (o *Orchestrator) handleFallback() *agent.Response {
	slog.Info("Using fallback handling for unmatched query")
	return &agent.Response{
		Content:   o.fallbackText(),
		Success:   true,
		AgentName: FallbackName,
		Metadata:  map[string]any{"fallback": true},
	}
}

func (o *Orchestrator) fallbackText() string {
	names := o.registry.Names()
	if len(names) == 0 {
		return "I'm not sure how to help with that request. Could you try rephrasing your question?"
	}
	return fmt.Sprintf(
		"I'm not sure how to help with that specific request. I can assist with: %s. "+
			"Could you rephrase your question or ask about one of these topics?",
		strings.Join(names, ", "),
	)
}

// checkRateLimit returns a denial response when agentName is over budget,
// nil otherwise. Denied calls do not consume budget.
func (o *Orchestrator) checkRateLimit(agentName string) *agent.Response {
	limiter := o.limiters[agentName]
	if limiter == nil {
		limiter = o.limiters["default"]
	}
	if limiter == nil || limiter.TryAcquire(agentName) {
		return nil
	}

	retryAfter := limiter.RetryAfter(agentName)
	slog.Warn("Rate limit denied", "agent", agentName, "retry_after", retryAfter)
	return &agent.Response{
		Content: fmt.Sprintf(
			"I'm handling too many %s requests right now. Please try again in about %d seconds.",
			agentName, int(retryAfter.Seconds())+1,
		),
		Success:   false,
		AgentName: agentName,
		Error:     "rate_limited",
	}
}

// safeProcess calls a.Process with panic containment so one misbehaving
// agent cannot take down the worker.
func safeProcess(ctx ctxpkg.Context, a agent.Agent, query string, conv agent.Conversation) (resp *agent.Response) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Agent panicked", "agent", a.Name(), "panic", r)
			resp = &agent.Response{
				Content:   agentErrorText,
				Success:   false,
				AgentName: a.Name(),
				Error:     fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	out, err := a.Process(ctx, query, conv)
	if err != nil {
		slog.Error("Agent failed", "agent", a.Name(), "error", err)
		return &agent.Response{
			Content:   agentErrorText,
			Success:   false,
			AgentName: a.Name(),
			Error:     err.Error(),
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
