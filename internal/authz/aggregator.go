package authz

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/mcpd/internal/protocol"
)

// FilterProvider enumerates filters from an external source, such as a
// host's component container.
type FilterProvider interface {
	Filters() []ToolFilter
}

// Aggregator adapts a FilterProvider into a single ToolFilter. The
// provider's filters are enumerated once, cached, and evaluated in
// priority order. The aggregator excludes itself from the enumeration by
// identity so a provider that happens to return it cannot recurse.
type Aggregator struct {
	provider FilterProvider

	once  sync.Once
	cache []ToolFilter
}

// NewAggregator creates an aggregator over the provider.
func NewAggregator(provider FilterProvider) *Aggregator {
	return &Aggregator{provider: provider}
}

// Priority places the aggregator ahead of any directly registered filter.
func (a *Aggregator) Priority() int { return PriorityAggregator }

// filters returns the cached, self-excluded enumeration.
func (a *Aggregator) filters() []ToolFilter {
	a.once.Do(func() {
		service := NewService(nil)
		for _, f := range a.provider.Filters() {
			if f == ToolFilter(a) {
				continue
			}
			service.RegisterFilter(f)
		}
		a.cache = service.RegisteredFilters()
	})
	return a.cache
}

// ShouldIncludeTool includes a tool only if every aggregated filter does.
func (a *Aggregator) ShouldIncludeTool(ctx context.Context, tool *protocol.Tool, ac *Context) (bool, error) {
	return includeTool(ctx, a.filters(), tool, ac)
}

// CanExecuteTool short-circuits on the first aggregated deny. A failing
// aggregated filter denies under that filter's type name, matching the
// service's isolation behavior.
func (a *Aggregator) CanExecuteTool(ctx context.Context, name string, ac *Context) (*Result, error) {
	for _, f := range a.filters() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := safeCanExecute(ctx, f, name, ac)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return Deny(fmt.Sprintf("Filter error: %T", f)), nil
		}
		if result != nil && !result.Authorized {
			return result, nil
		}
	}
	return Allow("All aggregated filters passed"), nil
}
