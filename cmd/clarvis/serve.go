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

package main

import (
	ctxpkg "context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/clarvis-ai/clarvis/pkg/agents/gmail"
	"github.com/clarvis-ai/clarvis/pkg/agents/notes"
	"github.com/clarvis-ai/clarvis/pkg/agents/ski"
	"github.com/clarvis-ai/clarvis/pkg/config"
	"github.com/clarvis-ai/clarvis/pkg/context"
	"github.com/clarvis-ai/clarvis/pkg/llms"
	"github.com/clarvis-ai/clarvis/pkg/logger"
	"github.com/clarvis-ai/clarvis/pkg/orchestrator"
	"github.com/clarvis-ai/clarvis/pkg/registry"
	"github.com/clarvis-ai/clarvis/pkg/router"
	"github.com/clarvis-ai/clarvis/pkg/server"
)

const sweepInterval = 5 * time.Minute

// ServeCmd starts the API server.
type ServeCmd struct {
	Port    int    `help:"Port to listen on. Overrides the API config." default:"0"`
	NotesDB string `name:"notes-db" help:"Path to the notes SQLite database." default:"clarvis-notes.db" type:"path"`
	Watch   bool   `help:"Watch config files for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := ctxpkg.WithCancel(ctxpkg.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	// applyReload is installed once the router and orchestrator exist; a
	// change notification that races server startup is dropped.
	var (
		reloadMu    sync.Mutex
		applyReload func(*config.Config)
	)
	onReload := func(newCfg *config.Config) {
		reloadMu.Lock()
		defer reloadMu.Unlock()
		if applyReload != nil {
			applyReload(newCfg)
		}
	}

	cfg, apiCfg, closers, err := loadConfigs(ctx, cli, c.Watch, onReload)
	if err != nil {
		return err
	}
	defer closers()

	if c.Port != 0 {
		apiCfg.Server.Port = c.Port
	}

	// LLM providers. Without an API key the LLM-backed agents and the LLM
	// routing fallback are disabled; notes still works.
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	var directLLM, routerLLM llms.Provider
	if apiKey == "" {
		slog.Warn("ANTHROPIC_API_KEY not set; LLM-backed agents and LLM routing disabled")
	} else {
		directLLM, err = llms.NewAnthropicProvider(llms.AnthropicConfig{
			APIKey: apiKey,
			Model:  cfg.Orchestrator.Model,
		})
		if err != nil {
			return fmt.Errorf("failed to create LLM provider: %w", err)
		}
		defer directLLM.Close()

		routerLLM, err = llms.NewAnthropicProvider(llms.AnthropicConfig{
			APIKey: apiKey,
			Model:  cfg.Orchestrator.RouterModel,
		})
		if err != nil {
			return fmt.Errorf("failed to create router LLM provider: %w", err)
		}
		defer routerLLM.Close()
	}

	reg := registry.NewAgentRegistry()

	if cfg.AgentEnabled("notes") {
		storage, err := notes.OpenStorage(c.NotesDB)
		if err != nil {
			return fmt.Errorf("failed to open notes storage: %w", err)
		}
		defer storage.Close()
		if err := reg.RegisterAgent(notes.New(storage)); err != nil {
			return err
		}
	}
	if directLLM != nil && cfg.AgentEnabled("gmail") {
		if err := reg.RegisterAgent(gmail.New(directLLM)); err != nil {
			return err
		}
	}
	if directLLM != nil && cfg.AgentEnabled("ski") {
		if err := reg.RegisterAgent(ski.New(ski.Config{}, directLLM)); err != nil {
			return err
		}
	}
	if reg.Count() == 0 {
		return fmt.Errorf("no agents enabled; nothing to serve")
	}

	classifier, err := buildClassifier(reg, cfg)
	if err != nil {
		return fmt.Errorf("failed to build classifier: %w", err)
	}

	rtr := router.New(reg, classifier, routerLLM, routerOptions(cfg, routerLLM))

	sessions := context.NewSessionStore(
		time.Duration(cfg.Orchestrator.SessionTimeoutMinutes)*time.Minute,
		cfg.Orchestrator.MaxTurns,
		context.DefaultHeuristic(),
	)
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessions.Sweep(); n > 0 {
					slog.Debug("Swept expired sessions", "removed", n)
				}
			}
		}
	}()

	orch := orchestrator.New(orchestrator.Options{
		Config:            cfg,
		Registry:          reg,
		Router:            rtr,
		DirectLLM:         directLLM,
		Sessions:          sessions,
		LogAgentResponses: config.BoolValue(cfg.Logging.LogAgentResponses, false),
	})

	// Reloads rebuild the classifier from the new document and swap the
	// routing table and announcements in place. A document that fails to
	// build keeps the running configuration.
	reloadMu.Lock()
	applyReload = func(newCfg *config.Config) {
		newClassifier, err := buildClassifier(reg, newCfg)
		if err != nil {
			slog.Error("Reloaded config rejected", "error", err)
			return
		}
		rtr.Update(newClassifier, routerOptions(newCfg, routerLLM))
		orch.SetAnnouncements(newCfg.Announcements)
		slog.Info("Applied reloaded configuration")
	}
	reloadMu.Unlock()

	srv := server.New(apiCfg, orch, reg, buildVersion())

	fmt.Printf("\nClarvis ready on http://%s\n", apiCfg.Address())
	fmt.Printf("   Health:  http://%s/health\n", apiCfg.Address())
	fmt.Printf("   Agents:  http://%s/api/v1/agents\n", apiCfg.Address())
	for _, name := range reg.Names() {
		fmt.Printf("     - %s\n", name)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start(ctx)
}

// routerOptions derives the router's options from the orchestrator document.
func routerOptions(cfg *config.Config, routerLLM llms.Provider) router.Options {
	return router.Options{
		Threshold:         *cfg.Routing.CodeRoutingThreshold,
		LLMEnabled:        routerLLM != nil && config.BoolValue(cfg.Routing.LLMRoutingEnabled, true),
		FollowUpDetection: config.BoolValue(cfg.Routing.FollowUpDetection, true),
		DefaultAgent:      cfg.Routing.DefaultAgent,
		LogDecisions:      config.BoolValue(cfg.Logging.LogRoutingDecisions, true),
	}
}

// loadConfigs loads both configuration documents, falling back to defaults
// when a path is not given. With watch set, the orchestrator document is
// watched and each successful reload is handed to onReload. The returned
// closer shuts down any file watchers.
func loadConfigs(ctx ctxpkg.Context, cli *CLI, watch bool, onReload func(*config.Config)) (*config.Config, *config.APIConfig, func(), error) {
	var closerFns []func()
	closers := func() {
		for _, fn := range closerFns {
			fn()
		}
	}

	cfg := &config.Config{}
	cfg.SetDefaults()
	if cli.Config != "" {
		loaded, loader, err := config.LoadFile(ctx, cli.Config, config.WithOnChange(onReload))
		if err != nil {
			return nil, nil, closers, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		closerFns = append(closerFns, func() { _ = loader.Close() })
		if watch {
			go func() {
				if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
					slog.Error("Config watch error", "error", err)
				}
			}()
		}
		slog.Info("Loaded configuration", "path", cli.Config)
	}

	apiCfg := &config.APIConfig{}
	apiCfg.SetDefaults()
	if cli.APIConfig != "" {
		loaded, loader, err := config.LoadAPIFile(ctx, cli.APIConfig)
		if err != nil {
			return nil, nil, closers, fmt.Errorf("failed to load API config: %w", err)
		}
		apiCfg = loaded
		closerFns = append(closerFns, func() { _ = loader.Close() })
		slog.Info("Loaded API configuration", "path", cli.APIConfig)
	}

	return cfg, apiCfg, closers, nil
}

// ValidateCmd checks the configuration files and exits.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" && cli.APIConfig == "" {
		return fmt.Errorf("nothing to validate: pass --config and/or --api-config")
	}

	ctx := ctxpkg.Background()
	if cli.Config != "" {
		_, loader, err := config.LoadFile(ctx, cli.Config)
		if err != nil {
			return fmt.Errorf("%s: %w", cli.Config, err)
		}
		_ = loader.Close()
		fmt.Printf("%s: OK\n", cli.Config)
	}
	if cli.APIConfig != "" {
		_, loader, err := config.LoadAPIFile(ctx, cli.APIConfig)
		if err != nil {
			return fmt.Errorf("%s: %w", cli.APIConfig, err)
		}
		_ = loader.Close()
		fmt.Printf("%s: OK\n", cli.APIConfig)
	}
	return nil
}

func initLogging(cli *CLI) (func(), error) {
	levelStr := cli.LogLevel
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}

	output := os.Stderr
	var cleanup func()
	if cli.LogFile != "" {
		file, closeFn, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return nil, err
		}
		output = file
		cleanup = closeFn
	}

	logger.Init(level, output, cli.LogFormat)
	return cleanup, nil
}
