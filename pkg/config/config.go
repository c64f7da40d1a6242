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

// Package config defines the two Clarvis configuration documents and their
// loading pipeline: YAML (or JSON) parsed into a map, environment variables
// expanded, then decoded into typed structs with defaults and validation.
package config

import (
	"fmt"
)

// Config is the orchestrator configuration document.
type Config struct {
	Orchestrator  OrchestratorConfig         `yaml:"orchestrator,omitempty" json:"orchestrator,omitempty"`
	Routing       RoutingConfig              `yaml:"routing,omitempty" json:"routing,omitempty"`
	Agents        map[string]*AgentConfig    `yaml:"agents,omitempty" json:"agents,omitempty"`
	Classifier    map[string]*ClassifierRule `yaml:"classifier,omitempty" json:"classifier,omitempty"`
	Announcements map[string]string          `yaml:"announcements,omitempty" json:"announcements,omitempty"`
	RateLimits    map[string]*RateLimitRule  `yaml:"rate_limits,omitempty" json:"rate_limits,omitempty"`
	Logging       LoggingConfig              `yaml:"logging,omitempty" json:"logging,omitempty"`
}

// OrchestratorConfig configures the orchestrator agent itself.
type OrchestratorConfig struct {
	// Model is the identifier for the direct-handling model.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// RouterModel is the identifier for the router fallback model.
	RouterModel string `yaml:"router_model,omitempty" json:"router_model,omitempty"`

	// SessionTimeoutMinutes is the session TTL.
	SessionTimeoutMinutes int `yaml:"session_timeout_minutes,omitempty" json:"session_timeout_minutes,omitempty"`

	// MaxTurns caps the stored turns per session.
	MaxTurns int `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`
}

// RoutingConfig configures the intent router.
type RoutingConfig struct {
	// CodeRoutingThreshold is the minimum classifier score for code-based
	// routing, in [0,1].
	CodeRoutingThreshold *float64 `yaml:"code_routing_threshold,omitempty" json:"code_routing_threshold,omitempty"`

	// LLMRoutingEnabled enables the LLM fallback for ambiguous queries.
	LLMRoutingEnabled *bool `yaml:"llm_routing_enabled,omitempty" json:"llm_routing_enabled,omitempty"`

	// FollowUpDetection enables the follow-up continuation check.
	FollowUpDetection *bool `yaml:"follow_up_detection,omitempty" json:"follow_up_detection,omitempty"`

	// DefaultAgent receives queries when no other rule decides. Empty means
	// no default.
	DefaultAgent string `yaml:"default_agent,omitempty" json:"default_agent,omitempty"`
}

// AgentConfig holds orchestrator-side per-agent settings.
type AgentConfig struct {
	Enabled  *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Priority int   `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// ClassifierRule overrides the keyword/pattern table for one agent. When a
// field is empty the agent's built-in table applies.
type ClassifierRule struct {
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Patterns []string `yaml:"patterns,omitempty" json:"patterns,omitempty"`
}

// RateLimitRule defines the sliding-window budget for one agent. The key
// "default" applies to agents without their own rule.
type RateLimitRule struct {
	MaxEvents     int `yaml:"max_events" json:"max_events"`
	WindowSeconds int `yaml:"window_seconds" json:"window_seconds"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level               string `yaml:"level,omitempty" json:"level,omitempty"`
	LogRoutingDecisions *bool  `yaml:"log_routing_decisions,omitempty" json:"log_routing_decisions,omitempty"`
	LogAgentResponses   *bool  `yaml:"log_agent_responses,omitempty" json:"log_agent_responses,omitempty"`
}

// SetDefaults fills in defaults for unset fields.
func (c *Config) SetDefaults() {
	if c.Orchestrator.Model == "" {
		c.Orchestrator.Model = "claude-sonnet-4-20250514"
	}
	if c.Orchestrator.RouterModel == "" {
		c.Orchestrator.RouterModel = "claude-3-5-haiku-20241022"
	}
	if c.Orchestrator.SessionTimeoutMinutes == 0 {
		c.Orchestrator.SessionTimeoutMinutes = 30
	}
	if c.Orchestrator.MaxTurns == 0 {
		c.Orchestrator.MaxTurns = 50
	}
	if c.Routing.CodeRoutingThreshold == nil {
		c.Routing.CodeRoutingThreshold = Float64Ptr(0.7)
	}
	if c.Routing.LLMRoutingEnabled == nil {
		c.Routing.LLMRoutingEnabled = BoolPtr(true)
	}
	if c.Routing.FollowUpDetection == nil {
		c.Routing.FollowUpDetection = BoolPtr(true)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.LogRoutingDecisions == nil {
		c.Logging.LogRoutingDecisions = BoolPtr(true)
	}
	if c.Logging.LogAgentResponses == nil {
		c.Logging.LogAgentResponses = BoolPtr(false)
	}
	if c.RateLimits == nil {
		c.RateLimits = map[string]*RateLimitRule{}
	}
	if _, ok := c.RateLimits["default"]; !ok {
		c.RateLimits["default"] = &RateLimitRule{MaxEvents: 30, WindowSeconds: 60}
	}
}

// Validate checks the document for fatal configuration errors.
func (c *Config) Validate() error {
	if c.Orchestrator.SessionTimeoutMinutes < 0 {
		return fmt.Errorf("orchestrator.session_timeout_minutes must be positive")
	}
	if c.Orchestrator.MaxTurns < 0 {
		return fmt.Errorf("orchestrator.max_turns must be positive")
	}
	if t := c.Routing.CodeRoutingThreshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("routing.code_routing_threshold must be in [0,1], got %v", *t)
	}
	for name, rule := range c.RateLimits {
		if rule == nil {
			continue
		}
		if rule.MaxEvents <= 0 {
			return fmt.Errorf("rate_limits.%s.max_events must be positive", name)
		}
		if rule.WindowSeconds <= 0 {
			return fmt.Errorf("rate_limits.%s.window_seconds must be positive", name)
		}
	}
	return nil
}

// AgentEnabled reports whether an agent is enabled. Agents without an entry
// default to enabled.
func (c *Config) AgentEnabled(name string) bool {
	a, ok := c.Agents[name]
	if !ok || a == nil {
		return true
	}
	return BoolValue(a.Enabled, true)
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 { return &f }

// BoolValue dereferences p, falling back to def when nil.
func BoolValue(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
