package orchestrator

import (
	ctxpkg "context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/clarvis-ai/clarvis/pkg/agent"
	"github.com/clarvis-ai/clarvis/pkg/config"
	"github.com/clarvis-ai/clarvis/pkg/context"
	"github.com/clarvis-ai/clarvis/pkg/registry"
	"github.com/clarvis-ai/clarvis/pkg/router"
)

// mockAgent streams canned chunks and can be told to fail, panic, or hang.
type mockAgent struct {
	name       string
	chunks     []string
	processErr error
	streamErr  error
	panics     bool
	hang       bool
	calls      int
}

func (m *mockAgent) Name() string                        { return m.name }
func (m *mockAgent) Description() string                 { return m.name + " agent" }
func (m *mockAgent) Capabilities() []agent.Capability    { return nil }
func (m *mockAgent) HealthCheck(ctx ctxpkg.Context) bool { return true }

func (m *mockAgent) Process(ctx ctxpkg.Context, query string, conv agent.Conversation) (*agent.Response, error) {
	m.calls++
	if m.panics {
		panic("mock agent exploded")
	}
	if m.processErr != nil {
		return nil, m.processErr
	}
	return &agent.Response{
		Content:   strings.Join(m.chunks, ""),
		Success:   true,
		AgentName: m.name,
	}, nil
}

func (m *mockAgent) Stream(ctx ctxpkg.Context, query string, conv agent.Conversation) (<-chan agent.Chunk, error) {
	m.calls++
	out := make(chan agent.Chunk)
	go func() {
		defer close(out)
		for _, text := range m.chunks {
			select {
			case out <- agent.Chunk{Text: text}:
			case <-ctx.Done():
				return
			}
		}
		if m.streamErr != nil {
			select {
			case out <- agent.Chunk{Err: m.streamErr}:
			case <-ctx.Done():
			}
		}
		if m.hang {
			select {}
		}
	}()
	return out, nil
}

type fixture struct {
	orch  *Orchestrator
	ski   *mockAgent
	gmail *mockAgent
}

func newFixture(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()

	if cfg == nil {
		cfg = &config.Config{}
	}
	cfg.SetDefaults()

	ski := &mockAgent{name: "ski", chunks: []string{"Six inches ", "of powder."}}
	gmail := &mockAgent{name: "gmail", chunks: []string{"No new email."}}

	reg := registry.NewAgentRegistry()
	for _, a := range []*mockAgent{ski, gmail} {
		if err := reg.RegisterAgent(a); err != nil {
			t.Fatalf("RegisterAgent(%s): %v", a.name, err)
		}
	}

	classifier, err := router.NewClassifier(
		[]string{"ski", "gmail"},
		map[string]router.AgentRule{
			"ski":   {Keywords: []string{"ski", "snow", "lift", "powder"}},
			"gmail": {Keywords: []string{"email", "inbox", "unread", "mail"}},
		},
	)
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}

	rtr := router.New(reg, classifier, nil, router.Options{
		Threshold:         0.4,
		FollowUpDetection: true,
	})

	orch := New(Options{
		Config:   cfg,
		Registry: reg,
		Router:   rtr,
		Sessions: context.NewSessionStore(time.Hour, 50, context.DefaultHeuristic()),
	})

	return &fixture{orch: orch, ski: ski, gmail: gmail}
}

func TestProcessRoutesToAgent(t *testing.T) {
	f := newFixture(t, nil)

	resp, sessionID, err := f.orch.Process(ctxpkg.Background(), "how much snow on the ski lift", "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !resp.Success || resp.AgentName != "ski" {
		t.Fatalf("resp = %+v, want ski success", resp)
	}
	if sessionID == "" {
		t.Fatal("session id should always be set")
	}

	// The successful turn is recorded.
	conv := f.orch.Sessions().Get(sessionID)
	if conv == nil || conv.TurnCount() != 1 || conv.LastAgent() != "ski" {
		t.Fatalf("conv = %+v", conv)
	}
}

func TestProcessGreetingHandledDirectly(t *testing.T) {
	f := newFixture(t, nil)

	resp, _, err := f.orch.Process(ctxpkg.Background(), "hello", "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	// No direct LLM configured; the canned fallback still succeeds.
	if !resp.Success || resp.AgentName != Name {
		t.Fatalf("resp = %+v, want direct success", resp)
	}
	if f.ski.calls != 0 || f.gmail.calls != 0 {
		t.Fatal("greeting must not reach any agent")
	}
}

func TestProcessFallbackListsAgents(t *testing.T) {
	f := newFixture(t, nil)

	resp, _, err := f.orch.Process(ctxpkg.Background(), "turn on the living room lights", "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !resp.Success || resp.AgentName != FallbackName {
		t.Fatalf("resp = %+v, want fallback", resp)
	}
	if !strings.Contains(resp.Content, "ski") || !strings.Contains(resp.Content, "gmail") {
		t.Fatalf("fallback should list available agents: %q", resp.Content)
	}
}

func TestProcessAgentErrorIsContained(t *testing.T) {
	f := newFixture(t, nil)
	f.ski.processErr = errors.New("upstream down")

	resp, sessionID, err := f.orch.Process(ctxpkg.Background(), "ski conditions", "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Success || resp.Error != "upstream down" {
		t.Fatalf("resp = %+v, want contained failure", resp)
	}
	if resp.Content != agentErrorText {
		t.Fatalf("content = %q", resp.Content)
	}

	// Failed turns are not recorded.
	if conv := f.orch.Sessions().Get(sessionID); conv.TurnCount() != 0 {
		t.Fatalf("TurnCount = %d, want 0", conv.TurnCount())
	}
}

func TestProcessAgentPanicIsContained(t *testing.T) {
	f := newFixture(t, nil)
	f.ski.panics = true

	resp, _, err := f.orch.Process(ctxpkg.Background(), "ski conditions", "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.Success || !strings.HasPrefix(resp.Error, "panic:") {
		t.Fatalf("resp = %+v, want panic containment", resp)
	}
}

func TestProcessSessionContinuity(t *testing.T) {
	f := newFixture(t, nil)

	_, sessionID, _ := f.orch.Process(ctxpkg.Background(), "ski conditions", "")
	_, again, _ := f.orch.Process(ctxpkg.Background(), "tell me more", sessionID)
	if again != sessionID {
		t.Fatalf("session id changed: %q vs %q", again, sessionID)
	}

	conv := f.orch.Sessions().Get(sessionID)
	if conv.TurnCount() != 2 {
		t.Fatalf("TurnCount = %d, want 2", conv.TurnCount())
	}
	// The follow-up continued with the same agent.
	if conv.LastAgent() != "ski" {
		t.Fatalf("LastAgent = %q, want ski", conv.LastAgent())
	}
}

func TestRateLimitDeniesWithoutConsumingBudget(t *testing.T) {
	cfg := &config.Config{
		RateLimits: map[string]*config.RateLimitRule{
			"ski": {MaxEvents: 1, WindowSeconds: 60},
		},
	}
	f := newFixture(t, cfg)

	resp, _, _ := f.orch.Process(ctxpkg.Background(), "ski conditions", "")
	if !resp.Success {
		t.Fatalf("first call should succeed: %+v", resp)
	}

	resp, sessionID, _ := f.orch.Process(ctxpkg.Background(), "ski conditions", "")
	if resp.Success || resp.Error != "rate_limited" {
		t.Fatalf("second call should be rate limited: %+v", resp)
	}
	if !strings.Contains(resp.Content, "try again in about") {
		t.Fatalf("denial content = %q", resp.Content)
	}
	if f.ski.calls != 1 {
		t.Fatalf("agent calls = %d, want 1; denied calls must not reach the agent", f.ski.calls)
	}

	// The denial is not recorded as a turn.
	if conv := f.orch.Sessions().Get(sessionID); conv.TurnCount() != 0 {
		t.Fatalf("TurnCount = %d, want 0", conv.TurnCount())
	}
}

func TestProcessAgentBypassesRouter(t *testing.T) {
	f := newFixture(t, nil)

	// A query that would never route to gmail still reaches it directly.
	resp, err := f.orch.ProcessAgent(ctxpkg.Background(), "gmail", "ski conditions")
	if err != nil {
		t.Fatalf("ProcessAgent: %v", err)
	}
	if !resp.Success || resp.AgentName != "gmail" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestProcessAgentUnknown(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.orch.ProcessAgent(ctxpkg.Background(), "weather", "anything")
	if !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("err = %v, want ErrUnknownAgent", err)
	}
}

func collect(t *testing.T, chunks <-chan agent.Chunk) (texts []string, errs []error) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return texts, errs
			}
			if chunk.Err != nil {
				errs = append(errs, chunk.Err)
			} else {
				texts = append(texts, chunk.Text)
			}
		case <-deadline:
			t.Fatal("stream did not close")
		}
	}
}

func TestStreamRelaysAgentChunksInOrder(t *testing.T) {
	f := newFixture(t, nil)

	chunks, sessionID := f.orch.Stream(ctxpkg.Background(), "ski conditions", "")
	texts, errs := collect(t, chunks)

	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if len(texts) != 2 || texts[0] != "Six inches " || texts[1] != "of powder." {
		t.Fatalf("texts = %q", texts)
	}

	conv := f.orch.Sessions().Get(sessionID)
	if conv.TurnCount() != 1 {
		t.Fatalf("TurnCount = %d, want 1", conv.TurnCount())
	}
	if got := conv.Turns()[0].Response; got != "Six inches of powder." {
		t.Fatalf("recorded response = %q", got)
	}
}

func TestStreamAnnouncementPrecedesAgentOutput(t *testing.T) {
	cfg := &config.Config{
		Announcements: map[string]string{"ski": "Checking the mountain. "},
	}
	f := newFixture(t, cfg)

	chunks, sessionID := f.orch.Stream(ctxpkg.Background(), "ski conditions", "")
	texts, _ := collect(t, chunks)

	if len(texts) != 3 || texts[0] != "Checking the mountain. " {
		t.Fatalf("texts = %q", texts)
	}

	// Announcements are not part of the recorded turn.
	conv := f.orch.Sessions().Get(sessionID)
	if got := conv.Turns()[0].Response; strings.Contains(got, "Checking the mountain") {
		t.Fatalf("announcement leaked into history: %q", got)
	}
}

func TestStreamErrorChunkIsTerminalAndUnrecorded(t *testing.T) {
	f := newFixture(t, nil)
	f.ski.streamErr = errors.New("stream broke")

	chunks, sessionID := f.orch.Stream(ctxpkg.Background(), "ski conditions", "")
	texts, errs := collect(t, chunks)

	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one terminal error", errs)
	}
	if errs[0].Error() != agentErrorText {
		t.Fatalf("err = %q", errs[0])
	}
	_ = texts

	if conv := f.orch.Sessions().Get(sessionID); conv.TurnCount() != 0 {
		t.Fatalf("TurnCount = %d, want 0 after a failed stream", conv.TurnCount())
	}
}

func TestStreamRateLimitedBeforeAnnouncement(t *testing.T) {
	cfg := &config.Config{
		RateLimits:    map[string]*config.RateLimitRule{"ski": {MaxEvents: 1, WindowSeconds: 60}},
		Announcements: map[string]string{"ski": "Checking the mountain. "},
	}
	f := newFixture(t, cfg)

	first, _ := f.orch.Stream(ctxpkg.Background(), "ski conditions", "")
	collect(t, first)

	second, _ := f.orch.Stream(ctxpkg.Background(), "ski conditions", "")
	texts, errs := collect(t, second)

	if len(texts) != 0 {
		t.Fatalf("denied stream emitted text (announcement?): %q", texts)
	}
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "try again") {
		t.Fatalf("errs = %v", errs)
	}
}

func TestStreamCancelledMidwayRecordsNoTurn(t *testing.T) {
	f := newFixture(t, nil)
	f.ski.hang = true

	ctx, cancel := ctxpkg.WithCancel(ctxpkg.Background())
	defer cancel()

	chunks, sessionID := f.orch.Stream(ctx, "ski conditions", "")

	// Drain the chunks emitted before the agent stalls, then cancel.
	for range f.ski.chunks {
		select {
		case <-chunks:
		case <-time.After(5 * time.Second):
			t.Fatal("no chunk before the stall")
		}
	}
	cancel()
	collect(t, chunks)

	if conv := f.orch.Sessions().Get(sessionID); conv.TurnCount() != 0 {
		t.Fatalf("TurnCount = %d, want 0 after cancellation", conv.TurnCount())
	}
}

func TestStreamFallback(t *testing.T) {
	f := newFixture(t, nil)

	chunks, sessionID := f.orch.Stream(ctxpkg.Background(), "turn on the lights", "")
	texts, errs := collect(t, chunks)

	if len(errs) != 0 || len(texts) != 1 {
		t.Fatalf("texts = %q, errs = %v", texts, errs)
	}
	if !strings.Contains(texts[0], "I can assist with") {
		t.Fatalf("fallback text = %q", texts[0])
	}

	if conv := f.orch.Sessions().Get(sessionID); conv.TurnCount() != 1 {
		t.Fatalf("TurnCount = %d, want 1", conv.TurnCount())
	}
}

func TestHealthy(t *testing.T) {
	f := newFixture(t, nil)
	if !f.orch.Healthy(ctxpkg.Background()) {
		t.Fatal("orchestrator with healthy agents should be healthy")
	}

	empty := New(Options{
		Registry: registry.NewAgentRegistry(),
		Sessions: context.NewSessionStore(time.Hour, 50, context.DefaultHeuristic()),
	})
	if empty.Healthy(ctxpkg.Background()) {
		t.Fatal("empty registry has no agent to serve queries")
	}
}

func TestSetAnnouncementsSwapsTable(t *testing.T) {
	cfg := &config.Config{
		Announcements: map[string]string{"ski": "Checking the mountain. "},
	}
	f := newFixture(t, cfg)

	chunks, _ := f.orch.Stream(ctxpkg.Background(), "ski conditions", "")
	texts, _ := collect(t, chunks)
	if len(texts) == 0 || texts[0] != "Checking the mountain. " {
		t.Fatalf("texts = %q", texts)
	}

	f.orch.SetAnnouncements(map[string]string{"ski": "One moment. "})

	chunks, _ = f.orch.Stream(ctxpkg.Background(), "more ski conditions", "")
	texts, _ = collect(t, chunks)
	if len(texts) == 0 || texts[0] != "One moment. " {
		t.Fatalf("texts after swap = %q", texts)
	}
}
