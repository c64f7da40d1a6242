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

// Package registry holds the process-wide mapping from agent name to agent.
//
// Registration happens at startup; after that the registry is read-mostly.
// Concurrent registration is safe but not a supported pattern.
package registry

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clarvis-ai/clarvis/pkg/agent"
)

// AgentCapability is a capability flattened with its owning agent's name,
// as consumed by the classifier config and the LLM router prompt.
type AgentCapability struct {
	AgentName string
	agent.Capability
}

// AgentRegistry is the registry for specialist agents.
type AgentRegistry struct {
	*BaseRegistry[agent.Agent]
}

// NewAgentRegistry creates an empty agent registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{
		BaseRegistry: NewBaseRegistry[agent.Agent](),
	}
}

// RegisterAgent registers an agent under its own name.
func (r *AgentRegistry) RegisterAgent(a agent.Agent) error {
	return r.Register(a.Name(), a)
}

// Unregister removes an agent by name. Missing names are not an error.
func (r *AgentRegistry) Unregister(name string) {
	_ = r.Remove(name)
}

// AllCapabilities returns every capability of every registered agent,
// flattened, in registry insertion order.
func (r *AgentRegistry) AllCapabilities() []AgentCapability {
	var caps []AgentCapability
	for _, a := range r.List() {
		for _, c := range a.Capabilities() {
			caps = append(caps, AgentCapability{AgentName: a.Name(), Capability: c})
		}
	}
	return caps
}

// healthCheckTimeout bounds each individual agent probe.
const healthCheckTimeout = 5 * time.Second

// HealthCheckAll probes every registered agent in parallel.
// A probe that panics counts as unhealthy; other agents are unaffected.
func (r *AgentRegistry) HealthCheckAll(ctx context.Context) map[string]bool {
	agents := r.List()

	var mu sync.Mutex
	results := make(map[string]bool, len(agents))

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range agents {
		a := a
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(gctx, healthCheckTimeout)
			defer cancel()

			healthy := probe(probeCtx, a)

			mu.Lock()
			results[a.Name()] = healthy
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func probe(ctx context.Context, a agent.Agent) (healthy bool) {
	defer func() {
		if recover() != nil {
			healthy = false
		}
	}()
	return a.HealthCheck(ctx)
}
