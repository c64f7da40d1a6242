package gmail

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/clarvis-ai/clarvis/pkg/llms"
)

type stubLLM struct {
	response   string
	err        error
	lastPrompt string
}

func (s *stubLLM) GetModelName() string { return "stub" }
func (s *stubLLM) Close() error         { return nil }
func (s *stubLLM) Generate(ctx context.Context, system string, messages []llms.Message) (string, error) {
	s.lastPrompt = messages[len(messages)-1].Content
	return s.response, s.err
}
func (s *stubLLM) GenerateStreaming(ctx context.Context, system string, messages []llms.Message) (<-chan llms.StreamChunk, error) {
	s.lastPrompt = messages[len(messages)-1].Content
	ch := make(chan llms.StreamChunk, 2)
	ch <- llms.StreamChunk{Type: "text", Text: s.response}
	ch <- llms.StreamChunk{Type: "done"}
	close(ch)
	return ch, nil
}

type stubConv struct {
	turns      int
	transcript string
}

func (c *stubConv) SessionID() string          { return "test-session" }
func (c *stubConv) RecentContext(n int) string { return c.transcript }
func (c *stubConv) TurnCount() int             { return c.turns }

func TestProcessDelegatesToLLM(t *testing.T) {
	llm := &stubLLM{response: "You have two unread emails."}
	a := New(llm)

	resp, err := a.Process(context.Background(), "any new email?", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !resp.Success || resp.Content != "You have two unread emails." {
		t.Fatalf("resp = %+v", resp)
	}
	if llm.lastPrompt != "any new email?" {
		t.Fatalf("prompt = %q, want the bare query without history", llm.lastPrompt)
	}
}

func TestProcessIncludesRecentConversation(t *testing.T) {
	llm := &stubLLM{response: "ok"}
	a := New(llm)
	conv := &stubConv{turns: 2, transcript: "User: any email?\nAssistant: One from Sam."}

	if _, err := a.Process(context.Background(), "what was it about?", conv); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !strings.Contains(llm.lastPrompt, "One from Sam.") {
		t.Fatalf("prompt missing history: %q", llm.lastPrompt)
	}
	if !strings.Contains(llm.lastPrompt, "Current request: what was it about?") {
		t.Fatalf("prompt missing current request: %q", llm.lastPrompt)
	}
}

func TestProcessContainsLLMFailure(t *testing.T) {
	a := New(&stubLLM{err: errors.New("upstream down")})

	resp, err := a.Process(context.Background(), "check my inbox", nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Success || resp.Error == "" {
		t.Fatalf("resp = %+v, want contained failure", resp)
	}
	if resp.Content != unavailableText {
		t.Fatalf("content = %q", resp.Content)
	}
}

func TestStreamRelaysChunks(t *testing.T) {
	a := New(&stubLLM{response: "Inbox is empty."})

	chunks, err := a.Stream(context.Background(), "check my inbox", nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			t.Fatalf("chunk error: %v", chunk.Err)
		}
		text.WriteString(chunk.Text)
	}
	if text.String() != "Inbox is empty." {
		t.Fatalf("streamed = %q", text.String())
	}
}
