// Package config loads and validates the runtime configuration.
package config

import (
	"fmt"

	"github.com/haasonsaas/mcpd/internal/observability"
	"github.com/haasonsaas/mcpd/internal/ratelimit"
	"github.com/haasonsaas/mcpd/internal/transport"
)

// Config is the root configuration.
type Config struct {
	// Server configures the MCP server surface.
	Server ServerConfig `yaml:"server"`

	// HTTP configures the optional HTTP gateway.
	HTTP HTTPConfig `yaml:"http"`

	// Logging configures structured logging.
	Logging observability.LogConfig `yaml:"logging"`

	// Authorization configures the stock filter chain.
	Authorization AuthzConfig `yaml:"authorization"`

	// Peers configures MCP servers this process can connect to as a
	// client.
	Peers []PeerConfig `yaml:"peers"`
}

// ServerConfig identifies this server and bounds its listings.
type ServerConfig struct {
	Name         string `yaml:"name"`
	Version      string `yaml:"version"`
	Instructions string `yaml:"instructions"`
	PageSize     int    `yaml:"page_size"`
}

// HTTPConfig configures the HTTP gateway.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// AuthzConfig declares the stock filters assembled at startup.
type AuthzConfig struct {
	// DenyPatterns hides and refuses tools matching these glob patterns.
	DenyPatterns []string `yaml:"deny_patterns"`

	// RoleRules gate tool name patterns behind a role.
	RoleRules []RoleRule `yaml:"role_rules"`

	// ScopeRules gate tool name patterns behind a permission scope.
	ScopeRules []ScopeRule `yaml:"scope_rules"`

	// RateLimit, when enabled, caps per-session per-tool invocation rates.
	RateLimit *RateLimitRule `yaml:"rate_limit"`

	// DefaultAllow appends the terminal allow-all filter. On by default
	// when any other filter is configured.
	DefaultAllow bool `yaml:"default_allow"`
}

// RoleRule requires a role for matching tools.
type RoleRule struct {
	Patterns []string `yaml:"patterns"`
	Role     string   `yaml:"role"`
	Realm    string   `yaml:"realm"`
	Priority int      `yaml:"priority"`
}

// ScopeRule requires a permission scope for matching tools.
type ScopeRule struct {
	Patterns []string `yaml:"patterns"`
	Scope    string   `yaml:"scope"`
	Realm    string   `yaml:"realm"`
	Priority int      `yaml:"priority"`
}

// RateLimitRule caps invocation rates.
type RateLimitRule struct {
	ratelimit.Config `yaml:",inline"`
	Priority         int `yaml:"priority"`
}

// PeerConfig names an MCP server reachable from this process.
type PeerConfig struct {
	ID string `yaml:"id"`

	// Stdio spawns the peer as a child process.
	Stdio *transport.CommandConfig `yaml:"stdio"`

	// URL reaches the peer over the HTTP gateway protocol.
	URL string `yaml:"url"`
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required when http.enabled")
	}
	for i, rule := range c.Authorization.RoleRules {
		if rule.Role == "" || len(rule.Patterns) == 0 {
			return fmt.Errorf("authorization.role_rules[%d]: role and patterns are required", i)
		}
	}
	for i, rule := range c.Authorization.ScopeRules {
		if rule.Scope == "" || len(rule.Patterns) == 0 {
			return fmt.Errorf("authorization.scope_rules[%d]: scope and patterns are required", i)
		}
	}
	seen := make(map[string]bool)
	for i, peer := range c.Peers {
		if peer.ID == "" {
			return fmt.Errorf("peers[%d]: id is required", i)
		}
		if seen[peer.ID] {
			return fmt.Errorf("peers[%d]: duplicate id %q", i, peer.ID)
		}
		seen[peer.ID] = true
		if (peer.Stdio == nil) == (peer.URL == "") {
			return fmt.Errorf("peers[%d]: exactly one of stdio or url is required", i)
		}
		if peer.Stdio != nil {
			if err := peer.Stdio.Validate(); err != nil {
				return fmt.Errorf("peers[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// Default returns a runnable baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:    "mcpd",
			Version: "dev",
		},
		HTTP: HTTPConfig{
			Addr: "127.0.0.1:8712",
		},
		Logging: observability.LogConfig{
			Level:  "info",
			Format: "json",
		},
		Authorization: AuthzConfig{
			DefaultAllow: true,
		},
	}
}
