package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func loadConfig(t *testing.T, content string) *Config {
	t.Helper()
	cfg, loader, err := LoadFile(context.Background(), writeConfig(t, content))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	t.Cleanup(func() { loader.Close() })
	return cfg
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg := loadConfig(t, "orchestrator: {}\n")

	if cfg.Orchestrator.Model != "claude-sonnet-4-20250514" {
		t.Fatalf("model = %q", cfg.Orchestrator.Model)
	}
	if cfg.Orchestrator.SessionTimeoutMinutes != 30 || cfg.Orchestrator.MaxTurns != 50 {
		t.Fatalf("orchestrator = %+v", cfg.Orchestrator)
	}
	if *cfg.Routing.CodeRoutingThreshold != 0.7 {
		t.Fatalf("threshold = %v", *cfg.Routing.CodeRoutingThreshold)
	}
	if !BoolValue(cfg.Routing.LLMRoutingEnabled, false) || !BoolValue(cfg.Routing.FollowUpDetection, false) {
		t.Fatalf("routing = %+v", cfg.Routing)
	}
	if rule := cfg.RateLimits["default"]; rule == nil || rule.MaxEvents != 30 || rule.WindowSeconds != 60 {
		t.Fatalf("default rate limit = %+v", cfg.RateLimits["default"])
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg := loadConfig(t, `
orchestrator:
  model: claude-test
  session_timeout_minutes: 5
routing:
  code_routing_threshold: 0.5
  llm_routing_enabled: false
rate_limits:
  ski:
    max_events: 2
    window_seconds: 30
`)

	if cfg.Orchestrator.Model != "claude-test" || cfg.Orchestrator.SessionTimeoutMinutes != 5 {
		t.Fatalf("orchestrator = %+v", cfg.Orchestrator)
	}
	if *cfg.Routing.CodeRoutingThreshold != 0.5 {
		t.Fatalf("threshold = %v", *cfg.Routing.CodeRoutingThreshold)
	}
	if BoolValue(cfg.Routing.LLMRoutingEnabled, true) {
		t.Fatal("llm_routing_enabled should be false")
	}
	if rule := cfg.RateLimits["ski"]; rule == nil || rule.MaxEvents != 2 {
		t.Fatalf("ski rate limit = %+v", cfg.RateLimits["ski"])
	}
	// The default rule is still filled in alongside explicit ones.
	if cfg.RateLimits["default"] == nil {
		t.Fatal("default rate limit missing")
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("CLARVIS_TEST_MODEL", "claude-from-env")

	cfg := loadConfig(t, `
orchestrator:
  model: ${CLARVIS_TEST_MODEL}
  router_model: ${CLARVIS_TEST_MISSING:-claude-default}
`)

	if cfg.Orchestrator.Model != "claude-from-env" {
		t.Fatalf("model = %q", cfg.Orchestrator.Model)
	}
	if cfg.Orchestrator.RouterModel != "claude-default" {
		t.Fatalf("router_model = %q", cfg.Orchestrator.RouterModel)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad threshold", "routing:\n  code_routing_threshold: 1.5\n"},
		{"bad rate limit", "rate_limits:\n  ski:\n    max_events: -1\n    window_seconds: 60\n"},
		{"unparseable", "{{{not config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := LoadFile(context.Background(), writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("LoadFile should fail")
			}
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, _, err := LoadFile(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("LoadFile should fail for a missing file")
	}
}

func TestLoadJSONDocument(t *testing.T) {
	cfg := loadConfig(t, `{"orchestrator": {"model": "claude-json"}}`)
	if cfg.Orchestrator.Model != "claude-json" {
		t.Fatalf("model = %q", cfg.Orchestrator.Model)
	}
}

func TestWatchHandsReloadedDocumentToOnChange(t *testing.T) {
	path := writeConfig(t, "routing:\n  code_routing_threshold: 0.7\n")

	reloaded := make(chan *Config, 1)
	cfg, loader, err := LoadFile(context.Background(), path, WithOnChange(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	}))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	defer loader.Close()
	if *cfg.Routing.CodeRoutingThreshold != 0.7 {
		t.Fatalf("threshold = %v", *cfg.Routing.CodeRoutingThreshold)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loader.Watch(ctx) }()

	// Rewrite until the watcher picks it up; the watch may attach after the
	// first write.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case next := <-reloaded:
			if *next.Routing.CodeRoutingThreshold != 0.4 {
				t.Fatalf("reloaded threshold = %v, want 0.4", *next.Routing.CodeRoutingThreshold)
			}
			return
		case <-tick.C:
			content := []byte("routing:\n  code_routing_threshold: 0.4\n")
			if err := os.WriteFile(path, content, 0o644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
		case <-deadline:
			t.Fatal("no reload delivered after file change")
		}
	}
}

func TestAPIConfigDefaultsAndHostOverride(t *testing.T) {
	t.Setenv("API_HOST", "")

	path := writeConfig(t, "server:\n  port: 9001\n")
	cfg, loader, err := LoadAPIFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadAPIFile: %v", err)
	}
	defer loader.Close()

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 9001 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Address() != "0.0.0.0:9001" {
		t.Fatalf("Address = %q", cfg.Address())
	}

	t.Setenv("API_HOST", "127.0.0.1")
	cfg2, loader2, err := LoadAPIFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadAPIFile: %v", err)
	}
	defer loader2.Close()
	if cfg2.Server.Host != "127.0.0.1" {
		t.Fatalf("host = %q, want API_HOST override", cfg2.Server.Host)
	}
}

func TestAPIConfigAgentTimeoutDefault(t *testing.T) {
	path := writeConfig(t, "agents:\n  ski:\n    enabled: true\n")
	cfg, loader, err := LoadAPIFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadAPIFile: %v", err)
	}
	defer loader.Close()

	if a := cfg.Agents["ski"]; a == nil || a.TimeoutSeconds != 120 {
		t.Fatalf("ski agent config = %+v", cfg.Agents["ski"])
	}
}

func TestAPIConfigOrchestratorTimeout(t *testing.T) {
	path := writeConfig(t, "server: {}\n")
	cfg, loader, err := LoadAPIFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadAPIFile: %v", err)
	}
	defer loader.Close()
	if cfg.Server.OrchestratorTimeoutSeconds != 180 {
		t.Fatalf("default = %d, want 180", cfg.Server.OrchestratorTimeoutSeconds)
	}

	path = writeConfig(t, "server:\n  orchestrator_timeout_seconds: 45\n")
	cfg2, loader2, err := LoadAPIFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadAPIFile: %v", err)
	}
	defer loader2.Close()
	if cfg2.Server.OrchestratorTimeoutSeconds != 45 {
		t.Fatalf("override = %d, want 45", cfg2.Server.OrchestratorTimeoutSeconds)
	}

	path = writeConfig(t, "server:\n  orchestrator_timeout_seconds: -1\n")
	if _, _, err := LoadAPIFile(context.Background(), path); err == nil {
		t.Fatal("negative timeout should fail validation")
	}
}

func TestAgentEnabled(t *testing.T) {
	cfg := loadConfig(t, `
agents:
  ski:
    enabled: false
  gmail:
    enabled: true
`)

	if cfg.AgentEnabled("ski") {
		t.Fatal("ski should be disabled")
	}
	if !cfg.AgentEnabled("gmail") {
		t.Fatal("gmail should be enabled")
	}
	// No entry defaults to enabled.
	if !cfg.AgentEnabled("notes") {
		t.Fatal("unlisted agents default to enabled")
	}
}
