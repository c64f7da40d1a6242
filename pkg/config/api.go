package config

import (
	"fmt"
	"os"
)

// APIConfig is the API gateway configuration document. It is a separate
// document from Config so the HTTP surface can be tuned without touching
// routing behavior.
type APIConfig struct {
	Server ServerConfig               `yaml:"server,omitempty" json:"server,omitempty"`
	Agents map[string]*APIAgentConfig `yaml:"agents,omitempty" json:"agents,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host        string   `yaml:"host,omitempty" json:"host,omitempty"`
	Port        int      `yaml:"port,omitempty" json:"port,omitempty"`
	CORSOrigins []string `yaml:"cors_origins,omitempty" json:"cors_origins,omitempty"`
	Debug       bool     `yaml:"debug,omitempty" json:"debug,omitempty"`

	// OrchestratorTimeoutSeconds bounds routed and streamed queries.
	OrchestratorTimeoutSeconds int `yaml:"orchestrator_timeout_seconds,omitempty" json:"orchestrator_timeout_seconds,omitempty"`
}

// APIAgentConfig holds gateway-side per-agent settings.
type APIAgentConfig struct {
	Enabled        *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int   `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// SetDefaults fills in defaults for unset fields. The API_HOST environment
// variable overrides server.host when present.
func (c *APIConfig) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if host := os.Getenv("API_HOST"); host != "" {
		c.Server.Host = host
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = []string{"*"}
	}
	if c.Server.OrchestratorTimeoutSeconds == 0 {
		c.Server.OrchestratorTimeoutSeconds = 180
	}
	for _, a := range c.Agents {
		if a != nil && a.TimeoutSeconds == 0 {
			a.TimeoutSeconds = 120
		}
	}
}

// Validate checks the document for fatal configuration errors.
func (c *APIConfig) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [0,65535], got %d", c.Server.Port)
	}
	if c.Server.OrchestratorTimeoutSeconds < 0 {
		return fmt.Errorf("server.orchestrator_timeout_seconds must be positive")
	}
	for name, a := range c.Agents {
		if a != nil && a.TimeoutSeconds < 0 {
			return fmt.Errorf("agents.%s.timeout_seconds must be positive", name)
		}
	}
	return nil
}

// Address returns the host:port listen address.
func (c *APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
