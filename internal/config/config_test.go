package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/mcpd/internal/authz"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadBasic(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "mcpd.yaml", `
server:
  name: test-server
  version: "1.2.3"
http:
  enabled: true
  addr: 127.0.0.1:9000
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Name != "test-server" || cfg.Server.Version != "1.2.3" {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Addr != "127.0.0.1:9000" {
		t.Errorf("unexpected http config %+v", cfg.HTTP)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %q", cfg.Logging.Level)
	}
}

func TestLoadIncludeAndEnvExpansion(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
server:
  name: base-name
  version: "0.1"
logging:
  level: info
`)
	t.Setenv("MCPD_TEST_ADDR", "10.0.0.1:7000")
	path := writeFile(t, dir, "main.yaml", `
$include: base.yaml
server:
  name: override-name
http:
  enabled: true
  addr: ${MCPD_TEST_ADDR}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Name != "override-name" {
		t.Errorf("expected override to win, got %q", cfg.Server.Name)
	}
	if cfg.Server.Version != "0.1" {
		t.Errorf("expected included version, got %q", cfg.Server.Version)
	}
	if cfg.HTTP.Addr != "10.0.0.1:7000" {
		t.Errorf("expected env expansion, got %q", cfg.HTTP.Addr)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "$include: b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "$include: a.yaml\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("expected cycle error, got %v", err)
	}
}

func TestValidatePeers(t *testing.T) {
	cfg := Default()
	cfg.Peers = []PeerConfig{{ID: "p1"}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for peer without stdio or url")
	}

	cfg.Peers = []PeerConfig{
		{ID: "p1", URL: "http://localhost:8712/mcp"},
		{ID: "p1", URL: "http://localhost:8713/mcp"},
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("expected duplicate id error, got %v", err)
	}
}

func TestBuildFilters(t *testing.T) {
	filters := BuildFilters(AuthzConfig{
		DenyPatterns: []string{"internal_*"},
		RoleRules:    []RoleRule{{Patterns: []string{"admin_*"}, Role: "admin", Priority: 5}},
		ScopeRules:   []ScopeRule{{Patterns: []string{"write_*"}, Scope: "write", Priority: 6}},
		DefaultAllow: true,
	})
	if len(filters) != 4 {
		t.Fatalf("expected 4 filters, got %d", len(filters))
	}
	if _, ok := filters[len(filters)-1].(*authz.AllowAllFilter); !ok {
		t.Error("expected allow-all last")
	}
}
