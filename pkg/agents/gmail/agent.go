// Package gmail implements the email agent. It delegates entirely to an LLM
// provider configured with mailbox access; the agent's job is the
// voice-friendly framing and the conversation context.
package gmail

import (
	"context"
	"fmt"

	"github.com/clarvis-ai/clarvis/pkg/agent"
	"github.com/clarvis-ai/clarvis/pkg/llms"
)

const systemPrompt = `You are an email assistant. You help the user check,
summarize, and search their email.

Answer in a voice-friendly way:
- Speak naturally, as if reading the answer out loud.
- Summarize rather than recite. "You have three unread emails, the most
  recent is from Sam about the budget" beats reading full headers.
- Never read out email addresses, URLs, or message IDs unless asked.
- If you cannot access the mailbox, say so plainly and suggest trying again.`

const unavailableText = "I couldn't check your email right now. Please try again in a moment."

// contextTurns is how much session history goes into the prompt.
const contextTurns = 2

// Agent answers email queries.
type Agent struct {
	llm llms.Provider
}

// New creates the gmail agent. llm must be non-nil.
func New(llm llms.Provider) *Agent {
	return &Agent{llm: llm}
}

func (a *Agent) Name() string {
	return "gmail"
}

func (a *Agent) Description() string {
	return "Check, summarize, and search email"
}

func (a *Agent) Capabilities() []agent.Capability {
	return []agent.Capability{
		{
			Name:        "inbox",
			Description: "Check for new and unread email",
			Keywords:    []string{"email", "emails", "inbox", "unread", "mail", "gmail"},
			Examples:    []string{"Do I have any new emails?", "Check my inbox"},
		},
		{
			Name:        "summarize",
			Description: "Summarize messages and threads",
			Keywords:    []string{"message", "messages", "summarize"},
			Examples:    []string{"Summarize my latest email from work"},
		},
		{
			Name:        "search",
			Description: "Find specific messages",
			Keywords:    []string{"sent", "received", "from"},
			Examples:    []string{"Did I get an email from the dentist?"},
		},
	}
}

func (a *Agent) HealthCheck(ctx context.Context) bool {
	return a.llm != nil
}

func (a *Agent) Process(ctx context.Context, query string, conv agent.Conversation) (*agent.Response, error) {
	content, err := a.llm.Generate(ctx, systemPrompt, a.messages(query, conv))
	if err != nil {
		return &agent.Response{
			Content:   unavailableText,
			Success:   false,
			AgentName: a.Name(),
			Error:     err.Error(),
		}, nil
	}
	return &agent.Response{
		Content:   content,
		Success:   true,
		AgentName: a.Name(),
	}, nil
}

func (a *Agent) Stream(ctx context.Context, query string, conv agent.Conversation) (<-chan agent.Chunk, error) {
	llmChunks, err := a.llm.GenerateStreaming(ctx, systemPrompt, a.messages(query, conv))
	if err != nil {
		return nil, err
	}

	out := make(chan agent.Chunk)
	go func() {
		defer close(out)
		for chunk := range llmChunks {
			switch chunk.Type {
			case "text":
				select {
				case out <- agent.Chunk{Text: chunk.Text}:
				case <-ctx.Done():
					return
				}
			case "error":
				select {
				case out <- agent.Chunk{Err: chunk.Error}:
				case <-ctx.Done():
				}
				return
			case "done":
				return
			}
		}
	}()
	return out, nil
}

func (a *Agent) messages(query string, conv agent.Conversation) []llms.Message {
	content := query
	if conv != nil && conv.TurnCount() > 0 {
		if recent := conv.RecentContext(contextTurns); recent != "" {
			content = fmt.Sprintf("Recent conversation:\n%s\n\nCurrent request: %s", recent, query)
		}
	}
	return []llms.Message{{Role: "user", Content: content}}
}

var _ agent.Agent = (*Agent)(nil)
