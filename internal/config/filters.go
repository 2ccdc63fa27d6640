package config

import (
	"github.com/haasonsaas/mcpd/internal/authz"
	"github.com/haasonsaas/mcpd/internal/ratelimit"
)

// BuildFilters assembles the stock authorization filters declared in the
// configuration, in a deterministic order. Priorities come from the
// rules; the deny-pattern filter always has priority 0 and is appended
// first, so it runs ahead of any rule that shares that priority.
func BuildFilters(cfg AuthzConfig) []authz.ToolFilter {
	var filters []authz.ToolFilter

	if len(cfg.DenyPatterns) > 0 {
		filters = append(filters, &authz.NamePatternFilter{
			FilterPriority: 0,
			Patterns:       cfg.DenyPatterns,
			Allow:          false,
		})
	}
	for _, rule := range cfg.RoleRules {
		filters = append(filters, &authz.RoleFilter{
			FilterPriority: rule.Priority,
			Patterns:       rule.Patterns,
			RequiredRole:   rule.Role,
			Realm:          rule.Realm,
		})
	}
	for _, rule := range cfg.ScopeRules {
		filters = append(filters, &authz.ScopeFilter{
			FilterPriority: rule.Priority,
			Patterns:       rule.Patterns,
			RequiredScope:  rule.Scope,
			Realm:          rule.Realm,
		})
	}
	if cfg.RateLimit != nil {
		filters = append(filters, authz.NewRateLimitFilter(cfg.RateLimit.Priority, ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.RateLimit.BurstSize,
		}))
	}
	if cfg.DefaultAllow {
		filters = append(filters, authz.NewAllowAllFilter())
	}
	return filters
}
