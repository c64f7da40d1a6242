package router

import (
	"fmt"
	"strings"

	"github.com/clarvis-ai/clarvis/pkg/registry"
)

// routerSystemPrompt frames the LLM fallback call. The %s slot receives the
// formatted capability catalog.
const routerSystemPrompt = `You are a routing assistant for a multi-agent home automation system.
Your job is to analyze user queries and determine which specialist agent should handle them.

AVAILABLE AGENTS:
%s

ROUTING RULES:
1. Route to an agent ONLY if the query clearly matches their capabilities
2. Set AGENT: DIRECT for:
   - Greetings ("hello", "hi", "hey", "good morning")
   - Thanks ("thank you", "thanks")
   - Simple questions about yourself or the system
   - General conversation that doesn't require specialized agents
3. If uncertain between agents, choose the most likely one with lower confidence
4. Consider conversation context when routing follow-ups

RESPONSE FORMAT:
You MUST respond in this exact format (one item per line):
AGENT: <agent_name or DIRECT or NONE>
CONFIDENCE: <0.0 to 1.0>
REASONING: <brief one-line explanation>`

// greetingPatterns and thanksPatterns trigger direct handling when they match
// the whole utterance or a prefix followed only by punctuation. Purely
// lexical on purpose; anything semantic belongs to the LLM fallback.
var greetingPatterns = []string{
	"hello",
	"hi",
	"hey",
	"good morning",
	"good afternoon",
	"good evening",
	"howdy",
	"greetings",
	"yo",
	"hiya",
}

var thanksPatterns = []string{
	"thank you",
	"thanks",
	"thx",
	"thank u",
	"ty",
	"appreciate it",
	"cheers",
	"great",
	"ok",
	"okay",
}

// formatCapabilities renders the registry's capability catalog for the router
// prompt.
func formatCapabilities(agents *registry.AgentRegistry) string {
	all := agents.List()
	if len(all) == 0 {
		return "No agents currently available."
	}

	var b strings.Builder
	for _, a := range all {
		fmt.Fprintf(&b, "Agent: %s\n", a.Name())

		caps := a.Capabilities()
		if len(caps) == 0 {
			b.WriteString("  - (No capabilities defined)\n\n")
			continue
		}

		for _, cap := range caps {
			fmt.Fprintf(&b, "  - %s: %s\n", cap.Name, cap.Description)
		}
		if examples := caps[0].Examples; len(examples) > 0 {
			if len(examples) > 2 {
				examples = examples[:2]
			}
			fmt.Fprintf(&b, "  Example queries: %s\n", strings.Join(examples, ", "))
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// matchesLexical reports whether query equals phrase, or starts with it
// followed only by punctuation and whitespace. Both arguments must already be
// lowercased and trimmed.
func matchesLexical(query, phrase string) bool {
	if query == phrase {
		return true
	}
	if !strings.HasPrefix(query, phrase) {
		return false
	}
	rest := query[len(phrase):]
	for _, r := range rest {
		switch {
		case r == ' ' || r == '\t':
		case r == '!' || r == '.' || r == ',' || r == '?' || r == ';' || r == ':':
		default:
			return false
		}
	}
	return true
}
