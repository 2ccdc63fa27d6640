package authz

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/haasonsaas/mcpd/internal/protocol"
)

// Well-known filter priorities. Lower values are evaluated earlier.
const (
	// PriorityAggregator places an aggregator ahead of everything else
	// when it is itself registered as a filter.
	PriorityAggregator = math.MinInt

	// PriorityAllowAll places the default-allow filter last.
	PriorityAllowAll = math.MaxInt
)

// ToolFilter decides tool visibility and executability. Implementations
// observe only the context and the tool; any internal state (quotas,
// counters) is theirs to serialize.
type ToolFilter interface {
	// Priority orders the chain; lower values are evaluated earlier.
	Priority() int

	// ShouldIncludeTool reports whether the tool appears in listings for
	// this caller.
	ShouldIncludeTool(ctx context.Context, tool *protocol.Tool, ac *Context) (bool, error)

	// CanExecuteTool decides whether the named tool may be invoked by
	// this caller.
	CanExecuteTool(ctx context.Context, name string, ac *Context) (*Result, error)
}

// Result is the outcome of one authorization decision.
type Result struct {
	Authorized bool
	Reason     string
	Challenge  *Challenge
}

// Allow builds an authorized result.
func Allow(reason string) *Result {
	return &Result{Authorized: true, Reason: reason}
}

// Deny builds a denied result.
func Deny(reason string) *Result {
	return &Result{Authorized: false, Reason: reason}
}

// DenyWithChallenge builds a denied result carrying an authentication
// challenge.
func DenyWithChallenge(reason string, challenge Challenge) *Result {
	return &Result{Authorized: false, Reason: reason, Challenge: &challenge}
}

// entry pairs a filter with its registration sequence for stable ordering.
type entry struct {
	filter ToolFilter
	seq    uint64
}

// Service owns the concurrency-safe, priority-ordered filter collection
// and evaluates the chain for listings and invocations.
type Service struct {
	logger *slog.Logger

	mu      sync.RWMutex
	entries []entry
	nextSeq uint64
}

// NewService creates an empty authorization service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// RegisterFilter adds a filter to the chain. The same filter value may be
// registered more than once; each registration is independent.
func (s *Service) RegisterFilter(f ToolFilter) {
	if f == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{filter: f, seq: s.nextSeq})
	s.nextSeq++
}

// UnregisterFilter removes the first registration of f, by identity.
// Unregistering a filter that is not present is a no-op.
func (s *Service) UnregisterFilter(f ToolFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.filter == f {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// RegisteredFilters returns a snapshot of the chain in evaluation order.
func (s *Service) RegisteredFilters() []ToolFilter {
	return s.snapshot()
}

// snapshot copies the chain sorted by ascending priority, registration
// order breaking ties. A running evaluation is unaffected by concurrent
// registration changes.
func (s *Service) snapshot() []ToolFilter {
	s.mu.RLock()
	entries := make([]entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].filter.Priority() != entries[j].filter.Priority() {
			return entries[i].filter.Priority() < entries[j].filter.Priority()
		}
		return entries[i].seq < entries[j].seq
	})

	out := make([]ToolFilter, len(entries))
	for i, e := range entries {
		out[i] = e.filter
	}
	return out
}

// FilterTools returns the subset of tools visible to the caller. A filter
// returning false excludes the tool; a filter failure is logged and
// excludes the tool (fail closed). Cancellation aborts the whole listing
// with the context's error.
func (s *Service) FilterTools(ctx context.Context, tools []*protocol.Tool, ac *Context) ([]*protocol.Tool, error) {
	chain := s.snapshot()
	visible := make([]*protocol.Tool, 0, len(tools))

	for _, tool := range tools {
		include, err := includeTool(ctx, chain, tool, ac)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("tool filter failed during listing, excluding tool",
				"tool", tool.Name, "error", err)
			continue
		}
		if include {
			visible = append(visible, tool)
		}
	}
	return visible, nil
}

// includeTool evaluates the visibility chain for one tool.
func includeTool(ctx context.Context, chain []ToolFilter, tool *protocol.Tool, ac *Context) (bool, error) {
	for _, f := range chain {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		include, err := safeShouldInclude(ctx, f, tool, ac)
		if err != nil {
			return false, err
		}
		if !include {
			return false, nil
		}
	}
	return true, nil
}

// AuthorizeToolExecution evaluates the chain for one invocation. The first
// deny short-circuits with that filter's result unchanged; a filter
// failure becomes a synthetic deny naming the filter type; cancellation
// aborts with the context's error, not a deny.
func (s *Service) AuthorizeToolExecution(ctx context.Context, name string, ac *Context) (*Result, error) {
	chain := s.snapshot()

	for _, f := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := safeCanExecute(ctx, f, name, ac)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("tool filter failed during authorization",
				"tool", name, "filter", fmt.Sprintf("%T", f), "error", err)
			return Deny(fmt.Sprintf("Filter error: %T", f)), nil
		}
		if result != nil && !result.Authorized {
			return result, nil
		}
	}
	return Allow("All filters passed"), nil
}

// safeShouldInclude isolates filter panics as errors.
func safeShouldInclude(ctx context.Context, f ToolFilter, tool *protocol.Tool, ac *Context) (include bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("filter %T panicked: %v", f, rec)
		}
	}()
	return f.ShouldIncludeTool(ctx, tool, ac)
}

// safeCanExecute isolates filter panics as errors.
func safeCanExecute(ctx context.Context, f ToolFilter, name string, ac *Context) (result *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("filter %T panicked: %v", f, rec)
		}
	}()
	return f.CanExecuteTool(ctx, name, ac)
}

// DenialError converts a deny result into the wire error for tools/call:
// InvalidParams, with the challenge carried in error.data for transports
// that can surface it as WWW-Authenticate.
func DenialError(name string, result *Result) *protocol.Error {
	message := fmt.Sprintf("tool %s: not authorized", name)
	if result.Reason != "" {
		message = fmt.Sprintf("tool %s: %s", name, result.Reason)
	}
	if result.Challenge == nil {
		return protocol.NewError(protocol.ErrCodeInvalidParams, message)
	}
	return protocol.NewErrorWithData(protocol.ErrCodeInvalidParams, message, protocol.ErrorData{
		WWWAuthenticate: result.Challenge.WWWAuthenticate,
		Status:          result.Challenge.StatusCode,
	})
}
