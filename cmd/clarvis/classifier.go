package main

import (
	"github.com/clarvis-ai/clarvis/pkg/config"
	"github.com/clarvis-ai/clarvis/pkg/registry"
	"github.com/clarvis-ai/clarvis/pkg/router"
)

// defaultPatterns holds each agent's built-in phrase patterns. Keywords come
// from the agents' declared capabilities; patterns catch multi-word intents a
// keyword match would miss. Config classifier entries override both.
var defaultPatterns = map[string][]string{
	"gmail": {
		`(check|read|any new|do i have).*(email|mail|inbox)`,
		`(unread|new)\s+(email|emails|message|messages|mail)`,
	},
	"ski": {
		`(ski|snow|slope).*(condition|report)`,
		`(snow|snowing|snowed).*(mountain|meadows|hood)`,
		`lift.*(open|running|status)`,
	},
	"notes": {
		`add .+ to( my)? .*list`,
		`(remove|take) .+ (from|off)( my)? .*list`,
		`what('s| is) (on|in) my`,
		`remind me`,
	},
}

// buildClassifier assembles the intent classifier from the registered agents'
// capability keywords, the built-in pattern table, and any per-agent overrides
// in the config.
func buildClassifier(reg *registry.AgentRegistry, cfg *config.Config) (*router.Classifier, error) {
	order := reg.Names()
	rules := make(map[string]router.AgentRule, len(order))

	for _, a := range reg.List() {
		rule := router.AgentRule{Patterns: defaultPatterns[a.Name()]}
		for _, capability := range a.Capabilities() {
			rule.Keywords = append(rule.Keywords, capability.Keywords...)
		}

		if override, ok := cfg.Classifier[a.Name()]; ok && override != nil {
			if len(override.Keywords) > 0 {
				rule.Keywords = override.Keywords
			}
			if len(override.Patterns) > 0 {
				rule.Patterns = override.Patterns
			}
		}

		rules[a.Name()] = rule
	}

	return router.NewClassifier(order, rules)
}
