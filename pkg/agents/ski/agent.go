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

// Package ski implements the ski conditions agent. It fetches the resort's
// conditions page, caches it briefly, and has an LLM answer questions over it.
package ski

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/clarvis-ai/clarvis/pkg/agent"
	"github.com/clarvis-ai/clarvis/pkg/httpclient"
	"github.com/clarvis-ai/clarvis/pkg/llms"
)

const (
	defaultConditionsURL = "https://cloudserv.skihood.com/"
	defaultCacheTTL      = 15 * time.Minute
	defaultFetchTimeout  = 15 * time.Second

	// maxConditionsChars bounds how much page text goes into the LLM prompt.
	maxConditionsChars = 12000
)

const unavailableText = "I couldn't reach the ski conditions service right now. Please try again in a bit."

// Config controls the conditions source and cache behavior.
type Config struct {
	ConditionsURL string
	CacheTTL      time.Duration
	FetchTimeout  time.Duration
}

func (c *Config) setDefaults() {
	if c.ConditionsURL == "" {
		c.ConditionsURL = defaultConditionsURL
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
}

// Agent answers ski conditions questions for Mt. Hood Meadows.
type Agent struct {
	cfg  Config
	llm  llms.Provider
	http *httpclient.Client

	mu        sync.Mutex
	cached    string
	fetchedAt time.Time

	now func() time.Time
}

// New creates the ski agent. llm must be non-nil.
func New(cfg Config, llm llms.Provider) *Agent {
	cfg.setDefaults()
	return &Agent{
		cfg: cfg,
		llm: llm,
		http: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: cfg.FetchTimeout}),
			httpclient.WithMaxRetries(2),
		),
		now: time.Now,
	}
}

func (a *Agent) Name() string {
	return "ski"
}

func (a *Agent) Description() string {
	return "Ski conditions, snowfall, lift status, and weather for Mt. Hood Meadows"
}

func (a *Agent) Capabilities() []agent.Capability {
	return []agent.Capability{
		{
			Name:        "snow_conditions",
			Description: "Current snow depth and recent snowfall",
			Keywords:    []string{"snow", "snowfall", "powder", "base", "ski", "skiing", "snowboard"},
			Examples:    []string{"How much snow fell overnight?", "What are the ski conditions like?"},
		},
		{
			Name:        "lift_status",
			Description: "Which lifts and runs are open",
			Keywords:    []string{"lift", "lifts", "runs", "open", "chairlift"},
			Examples:    []string{"Are the lifts running today?"},
		},
		{
			Name:        "weather",
			Description: "Mountain weather and temperature",
			Keywords:    []string{"mountain", "temperature", "visibility"},
			Examples:    []string{"What's the temperature on the mountain?"},
		},
		{
			Name:        "full_report",
			Description: "Complete conditions report",
			Keywords:    []string{"conditions", "report", "meadows", "hood"},
			Examples:    []string{"Give me the full ski report"},
		},
	}
}

func (a *Agent) HealthCheck(ctx context.Context) bool {
	return a.llm != nil
}

// Process fetches conditions and asks the LLM to answer over them.
func (a *Agent) Process(ctx context.Context, query string, conv agent.Conversation) (*agent.Response, error) {
	conditions, err := a.conditions(ctx)
	if err != nil {
		slog.Warn("Ski conditions fetch failed", "error", err)
		return &agent.Response{
			Content:   unavailableText,
			Success:   false,
			AgentName: a.Name(),
			Error:     err.Error(),
		}, nil
	}

	content, err := a.llm.Generate(ctx, systemPrompt, a.messages(conditions, query))
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

// Stream relays the LLM's streamed answer chunk by chunk.
func (a *Agent) Stream(ctx context.Context, query string, conv agent.Conversation) (<-chan agent.Chunk, error) {
	conditions, err := a.conditions(ctx)
	if err != nil {
		slog.Warn("Ski conditions fetch failed", "error", err)
		return nil, fmt.Errorf("ski conditions unavailable: %w", err)
	}

	llmChunks, err := a.llm.GenerateStreaming(ctx, systemPrompt, a.messages(conditions, query))
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

func (a *Agent) messages(conditions, query string) []llms.Message {
	return []llms.Message{
		{
			Role: "user",
			Content: fmt.Sprintf("Current conditions page:\n\n%s\n\nQuestion: %s",
				conditions, query),
		},
	}
}

// conditions returns the conditions page text, refetching when the cache is
// older than the configured TTL. A failed refresh falls back to stale data
// when any exists.
func (a *Agent) conditions(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cached != "" && a.now().Sub(a.fetchedAt) < a.cfg.CacheTTL {
		return a.cached, nil
	}

	text, err := a.fetch(ctx)
	if err != nil {
		if a.cached != "" {
			slog.Warn("Serving stale ski conditions", "age", a.now().Sub(a.fetchedAt), "error", err)
			return a.cached, nil
		}
		return "", err
	}

	a.cached = text
	a.fetchedAt = a.now()
	return text, nil
}

func (a *Agent) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.ConditionsURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build conditions request: %w", err)
	}
	req.Header.Set("User-Agent", "clarvis/1.0")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch conditions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("conditions fetch returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read conditions body: %w", err)
	}

	text := htmlToText(string(body))
	if text == "" {
		return "", fmt.Errorf("conditions page was empty")
	}
	return text, nil
}

var (
	scriptRe = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	spaceRe  = regexp.MustCompile(`[ \t]+`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// htmlToText strips markup down to readable text for the LLM prompt.
func htmlToText(html string) string {
	text := scriptRe.ReplaceAllString(html, " ")
	text = tagRe.ReplaceAllString(text, "\n")
	text = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	).Replace(text)
	text = spaceRe.ReplaceAllString(text, " ")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	text = strings.Join(lines, "\n")
	text = blankRe.ReplaceAllString(text, "\n\n")

	if len(text) > maxConditionsChars {
		text = text[:maxConditionsChars]
	}
	return text
}

var _ agent.Agent = (*Agent)(nil)
