package registry

import (
	"context"
	"testing"

	"github.com/clarvis-ai/clarvis/pkg/agent"
)

type fakeAgent struct {
	name    string
	healthy bool
	panics  bool
}

func (f *fakeAgent) Name() string        { return f.name }
func (f *fakeAgent) Description() string { return "fake" }
func (f *fakeAgent) Capabilities() []agent.Capability {
	return []agent.Capability{{Name: f.name + "_cap", Keywords: []string{f.name}}}
}
func (f *fakeAgent) HealthCheck(ctx context.Context) bool {
	if f.panics {
		panic("probe blew up")
	}
	return f.healthy
}
func (f *fakeAgent) Process(ctx context.Context, query string, conv agent.Conversation) (*agent.Response, error) {
	return &agent.Response{Content: "ok", Success: true, AgentName: f.name}, nil
}
func (f *fakeAgent) Stream(ctx context.Context, query string, conv agent.Conversation) (<-chan agent.Chunk, error) {
	return agent.OneShotStream(ctx, f, query, conv)
}

func TestRegisterAndGet(t *testing.T) {
	r := NewAgentRegistry()

	a := &fakeAgent{name: "ski", healthy: true}
	if err := r.RegisterAgent(a); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	got, ok := r.Get("ski")
	if !ok || got.Name() != "ski" {
		t.Fatalf("Get = %v, %v", got, ok)
	}
	if _, ok := r.Get("gmail"); ok {
		t.Fatal("Get should miss for unknown names")
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := NewAgentRegistry()

	if err := r.RegisterAgent(&fakeAgent{name: "ski"}); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if err := r.RegisterAgent(&fakeAgent{name: "ski"}); err == nil {
		t.Fatal("duplicate registration should fail")
	}
	if r.Count() != 1 {
		t.Fatalf("Count = %d, want 1", r.Count())
	}
}

func TestRegisterEmptyNameFails(t *testing.T) {
	r := NewAgentRegistry()
	if err := r.RegisterAgent(&fakeAgent{name: ""}); err == nil {
		t.Fatal("empty name should fail")
	}
}

func TestNamesPreserveInsertionOrder(t *testing.T) {
	r := NewAgentRegistry()
	for _, name := range []string{"gmail", "ski", "notes"} {
		if err := r.RegisterAgent(&fakeAgent{name: name}); err != nil {
			t.Fatalf("RegisterAgent(%s): %v", name, err)
		}
	}

	want := []string{"gmail", "ski", "notes"}
	got := r.Names()
	if len(got) != len(want) {
		t.Fatalf("Names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Names = %v, want %v", got, want)
		}
	}

	r.Unregister("ski")
	got = r.Names()
	if len(got) != 2 || got[0] != "gmail" || got[1] != "notes" {
		t.Fatalf("Names after Unregister = %v", got)
	}
}

func TestAllCapabilitiesFlattened(t *testing.T) {
	r := NewAgentRegistry()
	_ = r.RegisterAgent(&fakeAgent{name: "gmail"})
	_ = r.RegisterAgent(&fakeAgent{name: "ski"})

	caps := r.AllCapabilities()
	if len(caps) != 2 {
		t.Fatalf("len(caps) = %d, want 2", len(caps))
	}
	if caps[0].AgentName != "gmail" || caps[1].AgentName != "ski" {
		t.Fatalf("caps = %+v", caps)
	}
}

func TestHealthCheckAll(t *testing.T) {
	r := NewAgentRegistry()
	_ = r.RegisterAgent(&fakeAgent{name: "up", healthy: true})
	_ = r.RegisterAgent(&fakeAgent{name: "down", healthy: false})
	_ = r.RegisterAgent(&fakeAgent{name: "broken", panics: true})

	results := r.HealthCheckAll(context.Background())
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if !results["up"] {
		t.Fatal("up should be healthy")
	}
	if results["down"] {
		t.Fatal("down should be unhealthy")
	}
	if results["broken"] {
		t.Fatal("a panicking probe must count as unhealthy")
	}
}
