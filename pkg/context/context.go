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

// Package context tracks per-session conversation state.
//
// A ConversationContext records the turn history of one session and exposes
// the follow-up heuristic the router uses to keep multi-turn exchanges with
// the same specialist. Contexts live in an in-memory SessionStore and expire
// by TTL; nothing is persisted.
package context

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Turn is one completed (query, response, agent) exchange.
// Turns are immutable and append-only.
type Turn struct {
	Query     string
	Response  string
	AgentUsed string
	Timestamp time.Time
}

// Heuristic holds the lexical follow-up detection data. The sets are data so
// operators can tune them without a code change.
type Heuristic struct {
	// FollowUpPhrases match as whole words anywhere in the query.
	FollowUpPhrases []string

	// Pronouns trigger follow-up detection in queries of at most
	// ShortQueryTokens tokens.
	Pronouns []string

	// ShortQueryTokens is the token-count cutoff for pronoun detection.
	ShortQueryTokens int
}

// DefaultHeuristic returns the stock follow-up heuristic.
func DefaultHeuristic() Heuristic {
	return Heuristic{
		FollowUpPhrases: []string{
			"what about", "tell me more", "also", "and", "how about", "what else",
		},
		Pronouns: []string{
			"it", "they", "them", "that", "this", "those", "these",
		},
		ShortQueryTokens: 5,
	}
}

// ConversationContext tracks conversation state for one session.
//
// All mutating calls happen on the orchestrator's dispatch path under the
// per-session mutex; readers see either pre- or post-append state, never a
// partial turn.
type ConversationContext struct {
	mu sync.RWMutex

	sessionID    string
	turns        []Turn
	lastAgent    string
	lastActivity time.Time

	maxTurns  int
	heuristic Heuristic

	// dispatchMu serializes queries against this session.
	dispatchMu sync.Mutex
}

// NewConversationContext creates a context for the given session id.
// maxTurns bounds the stored history; older turns are dropped.
func NewConversationContext(sessionID string, maxTurns int, h Heuristic) *ConversationContext {
	if maxTurns <= 0 {
		maxTurns = 50
	}
	return &ConversationContext{
		sessionID:    sessionID,
		lastActivity: time.Now(),
		maxTurns:     maxTurns,
		heuristic:    h,
	}
}

// SessionID returns the opaque session identifier.
func (c *ConversationContext) SessionID() string {
	return c.sessionID
}

// AddTurn appends a completed turn and updates the last-agent pointer.
func (c *ConversationContext) AddTurn(query, response, agentUsed string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = append(c.turns, Turn{
		Query:     query,
		Response:  response,
		AgentUsed: agentUsed,
		Timestamp: time.Now(),
	})
	if len(c.turns) > c.maxTurns {
		c.turns = c.turns[len(c.turns)-c.maxTurns:]
	}
	c.lastAgent = agentUsed
	c.lastActivity = time.Now()
}

// LastAgent returns the agent used on the most recent turn, or "" if none.
func (c *ConversationContext) LastAgent() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastAgent
}

// TurnCount returns the number of recorded turns.
func (c *ConversationContext) TurnCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Turns returns a copy of the recorded turns, oldest first.
func (c *ConversationContext) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// LastActivity returns the time of the most recent access or append.
func (c *ConversationContext) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// Touch updates the activity timestamp without recording a turn.
func (c *ConversationContext) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LockSession acquires the per-session dispatch mutex. Queries against the
// same session are serialized so turn order is well defined.
func (c *ConversationContext) LockSession() {
	c.dispatchMu.Lock()
}

// UnlockSession releases the per-session dispatch mutex.
func (c *ConversationContext) UnlockSession() {
	c.dispatchMu.Unlock()
}

// RecentContext renders the last n turns as a transcript, oldest to newest.
// Used by the router's LLM prompt and by direct handling.
func (c *ConversationContext) RecentContext(n int) string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	turns := c.turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	var b strings.Builder
	for i, turn := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "User: %s\nAgent (%s): %s", turn.Query, turn.AgentUsed, turn.Response)
	}
	return b.String()
}

// ShouldContinueWithAgent reports whether the query looks like a follow-up to
// the previous turn, and if so which agent to continue with.
//
// The heuristic is purely lexical: a whole-word follow-up phrase anywhere in
// the query, or a short query containing a context pronoun. Depends only on
// the lowercased query and the last agent.
func (c *ConversationContext) ShouldContinueWithAgent(query string) (bool, string) {
	c.mu.RLock()
	lastAgent := c.lastAgent
	hasTurns := len(c.turns) > 0
	h := c.heuristic
	c.mu.RUnlock()

	if lastAgent == "" || !hasTurns {
		return false, ""
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return false, ""
	}

	for _, phrase := range h.FollowUpPhrases {
		if containsWholeWord(q, phrase) {
			return true, lastAgent
		}
	}

	tokens := strings.Fields(q)
	if len(tokens) <= h.ShortQueryTokens {
		for _, tok := range tokens {
			word := strings.Trim(tok, "?!.,;:'\"")
			for _, p := range h.Pronouns {
				if word == p {
					return true, lastAgent
				}
			}
		}
	}

	return false, ""
}

// containsWholeWord reports whether phrase occurs in s bounded by
// non-alphanumeric characters (or the string edges) on both sides.
func containsWholeWord(s, phrase string) bool {
	for start := 0; ; {
		i := strings.Index(s[start:], phrase)
		if i < 0 {
			return false
		}
		i += start

		leftOK := i == 0 || !isWordByte(s[i-1])
		end := i + len(phrase)
		rightOK := end == len(s) || !isWordByte(s[end])
		if leftOK && rightOK {
			return true
		}
		start = i + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9' || b == '_'
}
