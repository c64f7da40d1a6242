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

// Package agent defines the contract shared by all Clarvis specialist agents.
//
// An agent handles a class of natural-language queries. The orchestrator owns
// the routing; agents only see queries already directed at them, together with
// the conversation context for the session.
package agent

import (
	"context"
)

// Capability describes one thing an agent can do. Keywords feed the fast-path
// intent classifier; examples feed the LLM router prompt.
type Capability struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Examples    []string `json:"examples"`
}

// Response is the standardized result of processing a query.
//
// Invariant: Error is non-empty iff Success is false. Content may still carry
// user-facing fallback text on failure.
type Response struct {
	Content   string         `json:"content"`
	Success   bool           `json:"success"`
	AgentName string         `json:"agent_name"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Chunk is one element of a streamed response.
type Chunk struct {
	// Text is the chunk payload. Empty for terminal chunks.
	Text string

	// Err terminates the stream when non-nil. No further chunks follow.
	Err error
}

// Agent is the interface all specialists implement.
//
// Agents are registered once at startup and exclusively owned by the registry
// for their registered lifetime; callers hold borrowed handles.
type Agent interface {
	// Name returns the unique, stable identifier for this agent.
	Name() string

	// Description returns a human-readable summary of what this agent does.
	Description() string

	// Capabilities returns the capabilities this agent provides.
	Capabilities() []Capability

	// Process handles a query and returns a complete response.
	// ctx carries the request deadline and cancellation.
	Process(ctx context.Context, query string, conv Conversation) (*Response, error)

	// Stream handles a query and emits the response as ordered text chunks.
	// The returned channel is closed after the final chunk. A chunk with a
	// non-nil Err is always the last one sent.
	Stream(ctx context.Context, query string, conv Conversation) (<-chan Chunk, error)

	// HealthCheck reports whether the agent can currently serve queries.
	HealthCheck(ctx context.Context) bool
}

// Conversation is the read-only view of session history agents receive.
// The orchestrator retains ownership of the backing context; agents must not
// retain the reference past the call.
type Conversation interface {
	// SessionID returns the opaque session identifier.
	SessionID() string

	// RecentContext returns the last n turns rendered as a transcript,
	// ordered oldest to newest.
	RecentContext(n int) string

	// TurnCount returns the number of recorded turns.
	TurnCount() int
}
