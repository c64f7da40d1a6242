package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clarvis-ai/clarvis/pkg/agent"
	"github.com/clarvis-ai/clarvis/pkg/orchestrator"
)

type queryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
}

type queryResponse struct {
	Response  string `json:"response"`
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	AgentUsed string `json:"agent_used"`
	Error     string `json:"error,omitempty"`
}

type agentInfo struct {
	Name         string           `json:"name"`
	Description  string           `json:"description"`
	Capabilities []capabilityInfo `json:"capabilities"`
}

type capabilityInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Examples    []string `json:"examples"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeQuery parses and validates the common query payload.
func decodeQuery(w http.ResponseWriter, r *http.Request) (*queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return nil, false
	}
	return &req, true
}

// handleHealth reports 200 while any agent is available, 503 when none are.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.orch.Healthy(r.Context())

	agents := map[string]string{}
	for name, ok := range s.registry.HealthCheckAll(r.Context()) {
		if ok {
			agents[name] = "available"
		} else {
			agents[name] = "unavailable"
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !health {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"agents":  agents,
	})
}

// handleListAgents returns the registry's agents in insertion order.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	var agents []agentInfo
	for _, a := range s.registry.List() {
		info := agentInfo{
			Name:         a.Name(),
			Description:  a.Description(),
			Capabilities: []capabilityInfo{},
		}
		for _, c := range a.Capabilities() {
			info.Capabilities = append(info.Capabilities, capabilityInfo{
				Name:        c.Name,
				Description: c.Description,
				Keywords:    c.Keywords,
				Examples:    c.Examples,
			})
		}
		agents = append(agents, info)
	}

	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// handleQuery is the buffered query path.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.orchestratorTimeout())
	defer cancel()

	type result struct {
		resp      *agent.Response
		sessionID string
	}
	done := make(chan result, 1)
	go func() {
		resp, sessionID, _ := s.orch.Process(ctx, req.Query, req.SessionID)
		done <- result{resp, sessionID}
	}()

	select {
	case res := <-done:
		writeJSON(w, http.StatusOK, queryResponse{
			Response:  res.resp.Content,
			Success:   res.resp.Success,
			SessionID: res.sessionID,
			AgentUsed: res.resp.AgentName,
			Error:     res.resp.Error,
		})
	case <-ctx.Done():
		if r.Context().Err() != nil {
			// Client went away; nothing to write.
			return
		}
		writeJSON(w, http.StatusOK, queryResponse{
			Response:  "The request took too long to complete. Please try again.",
			Success:   false,
			SessionID: req.SessionID,
			AgentUsed: orchestrator.Name,
			Error:     "timeout",
		})
	}
}

// handleAgentQuery bypasses the router and queries one agent directly.
func (s *Server) handleAgentQuery(w http.ResponseWriter, r *http.Request) {
	agentName := chi.URLParam(r, "agent")

	if !s.agentEnabled(agentName) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("agent %q is not available", agentName))
		return
	}

	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.agentTimeout(agentName))
	defer cancel()

	resp, err := s.orch.ProcessAgent(ctx, agentName, req.Query)
	if err != nil {
		if errors.Is(err, orchestrator.ErrUnknownAgent) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if ctx.Err() != nil && r.Context().Err() == nil {
			writeError(w, http.StatusGatewayTimeout, "agent query timed out")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && r.Context().Err() == nil {
		writeError(w, http.StatusGatewayTimeout, "agent query timed out")
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Response:  resp.Content,
		Success:   resp.Success,
		SessionID: req.SessionID,
		AgentUsed: resp.AgentName,
		Error:     resp.Error,
	})
}
