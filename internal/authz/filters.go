package authz

import (
	"context"
	"fmt"
	"path"

	"github.com/haasonsaas/mcpd/internal/protocol"
	"github.com/haasonsaas/mcpd/internal/ratelimit"
)

// AllowAllFilter authorizes everything. Registered at PriorityAllowAll it
// serves as the chain's default-allow terminal.
type AllowAllFilter struct {
	FilterPriority int
}

// NewAllowAllFilter creates the default-allow terminal filter.
func NewAllowAllFilter() *AllowAllFilter {
	return &AllowAllFilter{FilterPriority: PriorityAllowAll}
}

func (f *AllowAllFilter) Priority() int { return f.FilterPriority }

func (f *AllowAllFilter) ShouldIncludeTool(ctx context.Context, tool *protocol.Tool, ac *Context) (bool, error) {
	return true, nil
}

func (f *AllowAllFilter) CanExecuteTool(ctx context.Context, name string, ac *Context) (*Result, error) {
	return Allow("allow-all"), nil
}

// NamePatternFilter matches tool names against glob patterns and either
// allows only matches or denies matches, depending on Allow.
type NamePatternFilter struct {
	FilterPriority int
	Patterns       []string
	// Allow true means only matching tools pass; false means matching
	// tools are rejected.
	Allow bool
}

func (f *NamePatternFilter) Priority() int { return f.FilterPriority }

// matches reports whether the name matches any configured pattern.
func (f *NamePatternFilter) matches(name string) bool {
	for _, pattern := range f.Patterns {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func (f *NamePatternFilter) ShouldIncludeTool(ctx context.Context, tool *protocol.Tool, ac *Context) (bool, error) {
	return f.matches(tool.Name) == f.Allow, nil
}

func (f *NamePatternFilter) CanExecuteTool(ctx context.Context, name string, ac *Context) (*Result, error) {
	if f.matches(name) == f.Allow {
		return Allow("name pattern matched"), nil
	}
	return Deny(fmt.Sprintf("Tool %s is not permitted by name policy", name)), nil
}

// RoleFilter requires a role for tools whose names match the configured
// patterns. Tools outside the patterns pass through.
type RoleFilter struct {
	FilterPriority int
	Patterns       []string
	RequiredRole   string
	Realm          string
}

func (f *RoleFilter) Priority() int { return f.FilterPriority }

func (f *RoleFilter) guarded(name string) bool {
	for _, pattern := range f.Patterns {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func (f *RoleFilter) ShouldIncludeTool(ctx context.Context, tool *protocol.Tool, ac *Context) (bool, error) {
	if !f.guarded(tool.Name) {
		return true, nil
	}
	return ac.HasRole(f.RequiredRole), nil
}

func (f *RoleFilter) CanExecuteTool(ctx context.Context, name string, ac *Context) (*Result, error) {
	if !f.guarded(name) || ac.HasRole(f.RequiredRole) {
		return Allow("role requirement satisfied"), nil
	}
	return DenyWithChallenge(
		fmt.Sprintf("Role %q required for %s", f.RequiredRole, name),
		InvalidTokenChallenge(f.Realm, fmt.Sprintf("Token lacks role %q", f.RequiredRole)),
	), nil
}

// ScopeFilter requires an OAuth-style permission scope for tools whose
// names match the configured patterns, answering denials with an
// insufficient_scope Bearer challenge.
type ScopeFilter struct {
	FilterPriority int
	Patterns       []string
	RequiredScope  string
	Realm          string
}

func (f *ScopeFilter) Priority() int { return f.FilterPriority }

func (f *ScopeFilter) guarded(name string) bool {
	for _, pattern := range f.Patterns {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

func (f *ScopeFilter) ShouldIncludeTool(ctx context.Context, tool *protocol.Tool, ac *Context) (bool, error) {
	if !f.guarded(tool.Name) {
		return true, nil
	}
	return ac.HasPermission(f.RequiredScope), nil
}

func (f *ScopeFilter) CanExecuteTool(ctx context.Context, name string, ac *Context) (*Result, error) {
	if !f.guarded(name) || ac.HasPermission(f.RequiredScope) {
		return Allow("scope requirement satisfied"), nil
	}
	return DenyWithChallenge(
		fmt.Sprintf("Insufficient scope for %s: requires %s", name, f.RequiredScope),
		InsufficientScopeChallenge(f.RequiredScope, f.Realm),
	), nil
}

// RateLimitFilter caps invocation rates per session and tool using a
// token-bucket limiter. Listings are unaffected; only execution consumes
// tokens.
type RateLimitFilter struct {
	FilterPriority int

	limiter *ratelimit.Limiter
}

// NewRateLimitFilter creates a rate-limit filter with the given bucket
// configuration.
func NewRateLimitFilter(priority int, cfg ratelimit.Config) *RateLimitFilter {
	return &RateLimitFilter{
		FilterPriority: priority,
		limiter:        ratelimit.NewLimiter(cfg),
	}
}

func (f *RateLimitFilter) Priority() int { return f.FilterPriority }

func (f *RateLimitFilter) ShouldIncludeTool(ctx context.Context, tool *protocol.Tool, ac *Context) (bool, error) {
	return true, nil
}

func (f *RateLimitFilter) CanExecuteTool(ctx context.Context, name string, ac *Context) (*Result, error) {
	if f.limiter.Allow(ac.SessionID() + "/" + name) {
		return Allow("within rate limit"), nil
	}
	return Deny(fmt.Sprintf("Rate limit exceeded for %s", name)), nil
}
