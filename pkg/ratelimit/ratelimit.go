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

// Package ratelimit implements the sliding-window limiter that protects
// specialist agents from overuse.
//
// The window is continuous, not bucketed: an acquisition is admitted iff
// fewer than the configured maximum of prior admissions fall strictly inside
// the trailing window. Denied calls consume no budget.
package ratelimit

import (
	"time"
)

// Limiter is the admission interface used by the orchestrator.
//
// Implementations must be safe for concurrent use and must never fail with an
// error; a false return is the only refusal mode.
type Limiter interface {
	// TryAcquire records an event for key and returns true, or returns false
	// without recording when the key's budget is exhausted.
	TryAcquire(key string) bool

	// RetryAfter returns how long the caller of key must wait before an
	// acquisition can succeed. Zero when a call would succeed now.
	RetryAfter(key string) time.Duration
}

// Config defines a sliding-window budget.
type Config struct {
	// MaxEvents is the maximum number of admitted events per window.
	MaxEvents int `yaml:"max_events" json:"max_events"`

	// Window is the trailing window duration.
	Window time.Duration `yaml:"window" json:"window"`
}
